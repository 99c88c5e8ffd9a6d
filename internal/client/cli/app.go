package cli

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/client"
	"github.com/dmitrijs2005/coursekeeper/internal/client/config"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/scheduler"
	"github.com/dmitrijs2005/coursekeeper/internal/client/services"
	"github.com/dmitrijs2005/coursekeeper/internal/client/stream"
	"github.com/dmitrijs2005/coursekeeper/internal/client/vault"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/dmitrijs2005/coursekeeper/internal/netx"
	"golang.org/x/sync/errgroup"
)

const (
	indexFile         = "index.db"
	vaultDir          = "vault"
	workDir           = "work"
	headerTimeout     = 30 * time.Second
	probeTimeout      = 3 * time.Second
	maxUnlockAttempts = 3
)

// getPassword is a test seam for GetPassword.
var getPassword = GetPassword

// App is the coursekeeper CLI application: configuration, the local index,
// the unlocked keys and every long-running component the REPL drives.
type App struct {
	config *config.Config
	logger logging.Logger
	reader *bufio.Reader
	out    io.Writer

	db     *sql.DB
	repos  *client.Repositories
	keySvc services.KeyService
	keys   *services.Keys

	vault       *vault.Vault
	scheduler   *scheduler.Scheduler
	stream      *stream.Server
	library     *services.Library
	maintenance *vault.Maintenance
}

// NewApp opens the local index under cfg.DataDir. Components that need the
// content keys are built later, by Run, once the passphrase is known.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	dataDir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	cfg.DataDir = dataDir

	db, err := client.InitDatabase(ctx, filepath.Join(dataDir, indexFile))
	if err != nil {
		return nil, err
	}

	return &App{
		config: cfg,
		logger: logger,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		db:     db,
		repos:  client.NewRepositories(db),
		keySvc: services.NewKeyService(db),
	}, nil
}

// Run unlocks the keys, starts every component and blocks in the REPL until
// the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.unlock(ctx); err != nil {
		return err
	}
	if err := a.build(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

// Close releases the index and wipes the keys. It is safe to call twice.
func (a *App) Close() {
	if a.stream != nil {
		a.stream.Cleanup()
	}
	if a.keys != nil {
		a.keys.Wipe()
		a.keys = nil
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

func (a *App) unlock(ctx context.Context) error {
	initialized, err := a.keySvc.Initialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		fmt.Fprintln(a.out, "No passphrase set yet. Choose one; it encrypts everything kept offline.")
	}

	for attempt := 0; attempt < maxUnlockAttempts; attempt++ {
		pw, err := getPassword("Passphrase", a.out)
		if err != nil {
			return err
		}
		if len(pw) == 0 {
			fmt.Fprintln(a.out, "Passphrase must not be empty.")
			continue
		}

		if !initialized {
			again, err := getPassword("Repeat passphrase", a.out)
			if err != nil {
				common.WipeByteArray(pw)
				return err
			}
			match := bytes.Equal(pw, again)
			common.WipeByteArray(again)
			if !match {
				common.WipeByteArray(pw)
				fmt.Fprintln(a.out, "Passphrases do not match.")
				continue
			}
		}

		keys, err := a.keySvc.Unlock(ctx, pw)
		common.WipeByteArray(pw)
		if errors.Is(err, services.ErrWrongPassphrase) {
			fmt.Fprintln(a.out, "Wrong passphrase.")
			continue
		}
		if err != nil {
			return err
		}

		a.keys = keys
		a.logger.Info(ctx, "vault unlocked")
		return nil
	}
	return services.ErrWrongPassphrase
}

// build wires the components that need the content keys.
func (a *App) build(ctx context.Context) error {
	cfg := a.config

	v, err := vault.New(vault.Config{
		Root:          filepath.Join(cfg.DataDir, vaultDir),
		Capacity:      cfg.CacheCapacity,
		EvictionAge:   cfg.EvictionAge,
		PriorityFloor: cfg.EvictionPriorityFloor,
	}, a.repos.Cache, a.repos.Courses, a.logger)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	httpClient := client.NewHTTPClient(headerTimeout)
	refresher, err := client.NewRefresher(ctx, cfg.S3, cfg.LocatorEndpoint, httpClient)
	if err != nil {
		return fmt.Errorf("locator refresher: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		WorkDir:             filepath.Join(cfg.DataDir, workDir),
		MaxConcurrent:       cfg.MaxConcurrentDownloads,
		MaxRetries:          cfg.MaxRetries,
		BackoffBase:         cfg.RetryBackoffBase,
		BackoffCap:          cfg.RetryBackoffCap,
		OnlineCheckInterval: cfg.OnlineCheckInterval,
		ProbeTimeout:        probeTimeout,
		AtomicKey:           a.keys.Atomic,
		StreamKey:           a.keys.Stream,
	}, client.NewHTTPTransport(httpClient, refresher), v, netx.NewProber(cfg.ProbeURL, probeTimeout), a.logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	srv, err := stream.New(stream.Config{
		ListenAddr: cfg.StreamListenAddr,
		SessionTTL: cfg.StreamSessionTTL,
		AtomicKey:  a.keys.Atomic,
		StreamKey:  a.keys.Stream,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("stream server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("stream server: %w", err)
	}

	a.vault = v
	a.scheduler = sched
	a.stream = srv
	a.library = services.NewLibrary(sched, v, srv, a.repos.Courses, a.repos.Outbox, a.keys.Atomic, a.logger)
	a.maintenance = vault.NewMaintenance(v, cfg.MaintenanceInterval, sched.Idle)
	return nil
}

// serve runs the components next to the REPL. Leaving the REPL stops them all.
func (a *App) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return a.stream.Serve(gctx) })
	g.Go(func() error { return a.maintenance.Run(gctx) })
	g.Go(func() error { return a.library.WatchCompletions(gctx) })
	g.Go(func() error { return a.watchTasks(gctx) })

	// The REPL stays outside the group: a read blocked on the terminal must
	// not hold up shutdown after a signal.
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		printlnFn("Type 'help' for the list of commands.")
		runREPL(gctx, a, a.status, a.reader, a.out)
	}()

	select {
	case <-replDone:
	case <-gctx.Done():
	}
	cancel()
	return g.Wait()
}

// watchTasks reports tasks reaching a final state, so downloads finishing in
// the background do not go unnoticed.
func (a *App) watchTasks(ctx context.Context) error {
	events, unsubscribe := a.scheduler.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != models.EventStatus {
				continue
			}
			t := ev.Task
			switch {
			case t.Status == models.StatusCompleted && len(t.Failures) > 0:
				printlnFn(fmt.Sprintf("\n%s finished, %d of %d files failed (retry %s)", t.Title, len(t.Failures), len(t.Files), shortID(t.ID)))
			case t.Status == models.StatusCompleted:
				printlnFn(fmt.Sprintf("\n%s is available offline", t.Title))
			case t.Status == models.StatusError:
				printlnFn(fmt.Sprintf("\n%s failed: %s", t.Title, t.LastError))
			}
		}
	}
}

func (a *App) status() string {
	if a.scheduler == nil {
		return "locked"
	}
	mode := "offline"
	if a.scheduler.Online() {
		mode = "online"
	}

	active := 0
	for _, t := range a.scheduler.List() {
		if t.Status.Active() {
			active++
		}
	}
	if active == 0 {
		return mode
	}
	return fmt.Sprintf("%s, %d active", mode, active)
}
