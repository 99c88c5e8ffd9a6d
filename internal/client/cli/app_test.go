package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/config"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/services"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const courseManifest = `
id: go-101
title: Go Basics
files:
  - id: notes
    name: notes.md
    kind: text
    content_type: text/markdown
    inline: "# Channels\n\nUnbuffered sends block until a receiver is ready.\n"
  - id: clip
    name: clip.mp4
    kind: video
    content_type: video/mp4
    inline: "pretend this is a short video clip"
`

// stubPasswords feeds the given answers to getPassword in order. Each call
// gets a fresh slice since callers wipe what they receive.
func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := getPassword
	i := 0
	getPassword = func(string, io.Writer) ([]byte, error) {
		if i >= len(answers) {
			return nil, io.EOF
		}
		pw := []byte(answers[i])
		i++
		return pw, nil
	}
	t.Cleanup(func() { getPassword = orig })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.CacheCapacity = 1 << 20
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, input string) (*App, *bytes.Buffer) {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	out := &bytes.Buffer{}
	a.out = out
	a.reader = rdr(input)
	return a, out
}

// startApp unlocks and builds a, then runs the background components until
// the test ends.
func startApp(t *testing.T, input string) (*App, *bytes.Buffer) {
	t.Helper()
	stubPasswords(t, "correct horse", "correct horse")
	capturePrintln(t)

	a, out := newTestApp(t, testConfig(t), input)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.unlock(ctx))
	require.NoError(t, a.build(ctx))

	done := make(chan struct{}, 2)
	go func() { _ = a.scheduler.Run(ctx); done <- struct{}{} }()
	go func() { _ = a.stream.Serve(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		a.Close()
	})
	return a, out
}

func writeManifest(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "course.yaml")
	require.NoError(t, os.WriteFile(p, []byte(courseManifest), 0o600))
	return p
}

func waitCompleted(t *testing.T, a *App) models.Task {
	t.Helper()
	var done models.Task
	require.Eventually(t, func() bool {
		for _, task := range a.scheduler.List() {
			if task.Status == models.StatusCompleted {
				done = task
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)
	return done
}

func TestApp_DownloadReadPlayRemove(t *testing.T) {
	a, out := startApp(t, "y\n")
	ctx := context.Background()
	path := writeManifest(t)

	require.NoError(t, a.Add(ctx, []string{path, "--compress"}))
	assert.Contains(t, out.String(), "Queued Go Basics: 2 files")

	task := waitCompleted(t, a)
	assert.Empty(t, task.Failures)
	assert.Equal(t, "online", a.status())

	out.Reset()
	require.NoError(t, a.List(ctx, nil))
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "Go Basics")
	assert.Contains(t, out.String(), "100%")

	out.Reset()
	require.NoError(t, a.Read(ctx, []string{"notes"}))
	assert.Equal(t, "# Channels\n\nUnbuffered sends block until a receiver is ready.\n", out.String())

	out.Reset()
	require.NoError(t, a.Play(ctx, []string{"clip"}))
	url := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(url, a.stream.BaseURL()))

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pretend this is a short video clip", string(body))

	resp, err = http.Get(a.stream.BaseURL() + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `ck_scheduler_files_total{result="stored"}`)
	assert.Contains(t, string(body), "ck_vault_bytes")
	assert.Contains(t, string(body), "ck_stream_requests_total")

	out.Reset()
	require.NoError(t, a.Stats(ctx, nil))
	assert.Contains(t, out.String(), "Vault: 2 files")
	assert.Contains(t, out.String(), "text/markdown")
	assert.Contains(t, out.String(), "video/mp4")

	out.Reset()
	require.NoError(t, a.Add(ctx, []string{path}))
	assert.Contains(t, out.String(), "already offline")

	out.Reset()
	require.NoError(t, a.Remove(ctx, []string{"go-101"}))
	assert.Contains(t, out.String(), "Removed 2 files of go-101")

	err = a.Read(ctx, []string{"notes"})
	require.ErrorIs(t, err, common.ErrNotFound)

	out.Reset()
	require.NoError(t, a.Sweep(ctx, nil))
	assert.Contains(t, out.String(), "Sweep took")
}

func TestApp_RemoveNeedsConfirmation(t *testing.T) {
	a, out := startApp(t, "n\n")
	ctx := context.Background()

	require.NoError(t, a.Add(ctx, []string{writeManifest(t)}))
	waitCompleted(t, a)

	require.NoError(t, a.Remove(ctx, []string{"go-101"}))
	assert.Contains(t, out.String(), "Nothing removed.")

	ok, err := a.vault.Contains(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApp_TaskCommands(t *testing.T) {
	a, out := startApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.List(ctx, nil))
	assert.Contains(t, out.String(), "No download tasks.")

	for name, fn := range map[string]func(context.Context, []string) error{
		"pause":  a.Pause,
		"resume": a.Resume,
		"cancel": a.Cancel,
		"retry":  a.Retry,
	} {
		err := fn(ctx, []string{"nope"})
		require.ErrorIs(t, err, common.ErrNotFound, name)

		var usage usageError
		require.ErrorAs(t, fn(ctx, nil), &usage, name)
	}

	var usage usageError
	require.ErrorAs(t, a.Add(ctx, nil), &usage)
	require.ErrorAs(t, a.Add(ctx, []string{"a.yaml", "--priority", "x"}), &usage)
	require.ErrorAs(t, a.Play(ctx, nil), &usage)
	require.ErrorAs(t, a.Read(ctx, []string{"a", "b"}), &usage)
	require.ErrorAs(t, a.Remove(ctx, nil), &usage)

	require.NoError(t, a.Add(ctx, []string{writeManifest(t)}))
	task := waitCompleted(t, a)

	id, err := a.resolveTask(task.ID[:6])
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	require.ErrorIs(t, a.Cancel(ctx, []string{task.ID[:6], "--delete"}), common.ErrInvalidState)
	require.ErrorIs(t, a.Retry(ctx, []string{task.ID}), common.ErrInvalidState)
	require.ErrorIs(t, a.Pause(ctx, []string{task.ID}), common.ErrInvalidState)
}

func TestApp_RunUntilExit(t *testing.T) {
	printed := capturePrintln(t)
	stubPasswords(t, "pw", "pw")

	cfg := testConfig(t)
	a, out := newTestApp(t, cfg, "stats\nexit\n")
	require.NoError(t, a.Run(context.Background()))

	assert.Contains(t, out.String(), "No passphrase set yet")
	assert.Contains(t, out.String(), "Vault: 0 files")
	assert.Contains(t, printed(), "Bye!")
	assert.Nil(t, a.db)

	// Reopening with the wrong passphrase gives up after a few attempts.
	stubPasswords(t, "nope", "still nope", "wrong again")
	b, out := newTestApp(t, cfg, "")
	err := b.Run(context.Background())
	require.ErrorIs(t, err, services.ErrWrongPassphrase)
	assert.Equal(t, maxUnlockAttempts, strings.Count(out.String(), "Wrong passphrase."))
	assert.NotContains(t, out.String(), "No passphrase set yet")
}

func TestApp_UnlockRejectsMismatchAndEmpty(t *testing.T) {
	capturePrintln(t)
	stubPasswords(t, "", "one", "two", "one", "one")

	a, out := newTestApp(t, testConfig(t), "")
	t.Cleanup(a.Close)

	require.NoError(t, a.unlock(context.Background()))
	require.NotNil(t, a.keys)
	assert.Contains(t, out.String(), "Passphrase must not be empty.")
	assert.Contains(t, out.String(), "Passphrases do not match.")
	assert.Equal(t, "locked", (&App{}).status())
}
