// Package scheduler downloads course content into the vault.
//
// A Scheduler owns every download task. Tasks wait in a priority queue and
// at most MaxConcurrent of them run at a time; each running task fetches its
// files strictly in order, resuming partial files by byte range, verifying
// checksums, sealing the plaintext and handing the blob to the vault. All
// state sits behind one mutex, so the public methods are safe to call from
// any goroutine. Admission of queued tasks happens in the Run loop.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/client"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/client/vault"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/cryptox"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/google/uuid"
)

const defaultPriority = 5

// Store is the part of the vault the scheduler writes to.
type Store interface {
	Put(ctx context.Context, artifactID, sourcePath string, meta vault.PutMeta) (string, error)
	Contains(ctx context.Context, artifactID string) (bool, error)
}

// Prober reports whether the content origin is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

type Config struct {
	// WorkDir holds partial downloads, one subdirectory per course.
	WorkDir string

	MaxConcurrent int
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	// TickInterval paces the admission loop.
	TickInterval time.Duration

	OnlineCheckInterval time.Duration
	ProbeTimeout        time.Duration

	// RefreshMargin is how close to expiry a signed locator may be before
	// it is refreshed ahead of the transfer.
	RefreshMargin time.Duration

	AtomicKey []byte
	StreamKey []byte
}

func (c *Config) setDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.OnlineCheckInterval <= 0 {
		c.OnlineCheckInterval = 3 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = 2 * time.Minute
	}
}

type Scheduler struct {
	cfg       Config
	transport client.Transport
	store     Store
	prober    Prober
	logger    logging.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	order   []*task
	queue   taskQueue
	active  map[string]*task
	seq     uint64
	online  bool
	baseCtx context.Context
	subs    map[int]chan models.TaskEvent
	nextSub int

	wake chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New builds a scheduler. prober may be nil, in which case the client is
// considered online until SetOnline says otherwise.
func New(cfg Config, transport client.Transport, store Store, prober Prober, logger logging.Logger) (*Scheduler, error) {
	cfg.setDefaults()
	if len(cfg.AtomicKey) != cryptox.KeySize || len(cfg.StreamKey) != cryptox.KeySize {
		return nil, fmt.Errorf("scheduler needs %d-byte atomic and stream keys", cryptox.KeySize)
	}
	dir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	cfg.WorkDir = dir

	return &Scheduler{
		cfg:       cfg,
		transport: transport,
		store:     store,
		prober:    prober,
		logger:    logger.With("component", "scheduler"),
		tasks:     map[string]*task{},
		active:    map[string]*task{},
		online:    true,
		baseCtx:   context.Background(),
		subs:      map[int]chan models.TaskEvent{},
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

// Run drives admission and the connectivity probe until ctx is done, then
// stops every running task and waits for it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var probeC <-chan time.Time
	if s.prober != nil {
		probe := time.NewTicker(s.cfg.OnlineCheckInterval)
		defer probe.Stop()
		probeC = probe.C
	}

	s.logger.Info(ctx, "scheduler started", "max_concurrent", s.cfg.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.logger.Info(context.Background(), "scheduler stopped")
			return nil
		case <-ticker.C:
			s.schedule()
		case <-s.wake:
			s.schedule()
		case <-probeC:
			s.checkConnectivity(ctx)
		}
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	for _, t := range s.active {
		if t.run != nil {
			t.run.cancel()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked()
}

func (s *Scheduler) dispatchLocked() {
	for s.online && len(s.active) < s.cfg.MaxConcurrent && s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		s.startLocked(t, models.StatusStarting)
	}
	activeTasks.Set(float64(len(s.active)))
}

func (s *Scheduler) startLocked(t *task, initial models.TaskStatus) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	prev := t.run

	t.gen++
	r := &run{cancel: cancel, done: make(chan struct{}), gen: t.gen}
	t.run = r
	t.pauseReason = models.PauseNone
	if t.startedAt.IsZero() {
		t.startedAt = s.now()
	}
	s.active[t.id] = t
	s.setStatusLocked(t, initial)
	activeTasks.Set(float64(len(s.active)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()
		// A paused run may still be unwinding; never let two runs touch
		// the same partial files.
		if prev != nil {
			<-prev.done
		}
		s.runTask(ctx, t, r)
	}()
}

// stopLocked cancels the current run of t and releases its slot. The run
// goroutine notices the generation change and leaves the task alone.
func (s *Scheduler) stopLocked(t *task) {
	if t.run != nil {
		t.run.cancel()
	}
	t.gen++
	delete(s.active, t.id)
	activeTasks.Set(float64(len(s.active)))
}

func (s *Scheduler) setStatusLocked(t *task, st models.TaskStatus) {
	if t.status == st {
		return
	}
	t.status = st
	s.emitLocked(models.EventStatus, t, "", "")
}

func (s *Scheduler) findByCourseLocked(courseID string) *task {
	for _, t := range s.order {
		if t.courseID != courseID {
			continue
		}
		if t.status == models.StatusCompleted || t.status == models.StatusCancelled {
			continue
		}
		return t
	}
	return nil
}

// Enqueue creates a task downloading files for courseID. It fails with
// common.ErrOffline while offline, with common.ErrTaskExists (returning the
// existing task id) when the course already has a live task, and with
// common.ErrAlreadyPresent when every file is in the vault and opts.Force
// is not set.
func (s *Scheduler) Enqueue(ctx context.Context, courseID string, files []models.File, opts models.EnqueueOptions) (string, error) {
	if courseID == "" {
		return "", fmt.Errorf("course id is required")
	}
	if len(files) == 0 {
		return "", fmt.Errorf("course %s has no files", courseID)
	}

	if id, err := s.checkAdmission(courseID); err != nil {
		return id, err
	}

	if !opts.Force {
		present, err := s.allPresent(ctx, files)
		if err != nil {
			return "", err
		}
		if present {
			return "", fmt.Errorf("%w: %s", common.ErrAlreadyPresent, courseID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Admission is checked again: another caller may have won the race
	// while presence was being looked up.
	if !s.online {
		return "", common.ErrOffline
	}
	if t := s.findByCourseLocked(courseID); t != nil {
		return t.id, fmt.Errorf("%w: task %s is %s", common.ErrTaskExists, t.id, t.status)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	priority = clampPriority(priority)

	fs := make([]models.File, len(files))
	copy(fs, files)
	var total int64
	for _, f := range fs {
		total += f.Size
	}

	title := opts.Title
	if title == "" {
		title = courseID
	}

	s.seq++
	t := &task{
		id:         uuid.NewString(),
		courseID:   courseID,
		title:      title,
		files:      fs,
		opts:       opts,
		workDir:    filepath.Join(s.cfg.WorkDir, vault.StorageKey(courseID)[:16]),
		priority:   priority,
		seq:        s.seq,
		totalBytes: total,
		createdAt:  s.now(),
	}
	s.tasks[t.id] = t
	s.order = append(s.order, t)

	t.status = models.StatusQueued
	heap.Push(&s.queue, t)
	s.emitLocked(models.EventStatus, t, "", "")
	s.signal()

	s.logger.Info(ctx, "task enqueued", "task", t.id, "course", courseID, "files", len(fs), "priority", priority)
	return t.id, nil
}

func (s *Scheduler) checkAdmission(courseID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return "", common.ErrOffline
	}
	if t := s.findByCourseLocked(courseID); t != nil {
		return t.id, fmt.Errorf("%w: task %s is %s", common.ErrTaskExists, t.id, t.status)
	}
	return "", nil
}

func (s *Scheduler) allPresent(ctx context.Context, files []models.File) (bool, error) {
	for _, f := range files {
		ok, err := s.store.Contains(ctx, f.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func (s *Scheduler) lookupLocked(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	return t, nil
}

// Pause stops a queued or running task and frees its slot.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if t.status != models.StatusQueued && !t.status.Active() {
		return fmt.Errorf("%w: cannot pause task in status %s", common.ErrInvalidState, t.status)
	}
	s.pauseLocked(t, models.PauseManual)
	s.signal()
	return nil
}

func (s *Scheduler) pauseLocked(t *task, reason models.PauseReason) {
	if t.status == models.StatusQueued {
		heap.Remove(&s.queue, t.heapIndex)
	} else {
		s.stopLocked(t)
	}
	t.pauseReason = reason
	t.pausedAt = s.now()
	t.samples = nil
	s.setStatusLocked(t, models.StatusPaused)
	s.logger.Info(context.Background(), "task paused", "task", t.id, "reason", reason)
}

// Resume continues a paused task. With a free slot it restarts right away
// through the resuming state; otherwise it goes back to the queue. A boost
// above zero replaces the task priority.
func (s *Scheduler) Resume(id string, boost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if t.status != models.StatusPaused {
		return fmt.Errorf("%w: cannot resume task in status %s", common.ErrInvalidState, t.status)
	}
	if boost > 0 {
		t.priority = clampPriority(boost)
	}
	s.resumeLocked(t)
	return nil
}

func (s *Scheduler) resumeLocked(t *task) {
	t.pauseReason = models.PauseNone
	if s.online && len(s.active) < s.cfg.MaxConcurrent {
		s.startLocked(t, models.StatusResuming)
		return
	}
	t.status = models.StatusQueued
	heap.Push(&s.queue, t)
	s.emitLocked(models.EventStatus, t, "", "")
	s.signal()
}

// Cancel stops a task for good. With deleteFiles the task's working
// directory, partial downloads included, is removed once the run has
// unwound.
func (s *Scheduler) Cancel(id string, deleteFiles bool) error {
	s.mu.Lock()
	t, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.status == models.StatusCompleted || t.status == models.StatusCancelled {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel task in status %s", common.ErrInvalidState, t.status)
	}

	prev := t.run
	switch {
	case t.status == models.StatusQueued:
		heap.Remove(&s.queue, t.heapIndex)
	case t.status.Active():
		s.stopLocked(t)
	}
	t.completedAt = s.now()
	s.setStatusLocked(t, models.StatusCancelled)
	workDir := t.workDir
	s.signal()
	s.mu.Unlock()

	s.logger.Info(context.Background(), "task cancelled", "task", id, "delete_files", deleteFiles)

	if !deleteFiles {
		return nil
	}
	if prev != nil {
		<-prev.done
	}
	if err := os.RemoveAll(workDir); err != nil {
		return common.Classify(err)
	}
	return nil
}

// CancelCourse cancels the live task of courseID, if there is one, and
// removes its partial downloads. Once it returns no run of that task can
// still write to the vault.
func (s *Scheduler) CancelCourse(courseID string) error {
	s.mu.Lock()
	t := s.findByCourseLocked(courseID)
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	err := s.Cancel(t.id, true)
	if errors.Is(err, common.ErrInvalidState) {
		// Finished between the lookup and the cancel.
		return nil
	}
	return err
}

// Retry puts a failed task, or a completed one with failed files, back in
// the queue. Files already in the vault are skipped on the next run.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	retryable := t.status == models.StatusError ||
		(t.status == models.StatusCompleted && len(t.failures) > 0)
	if !retryable {
		return fmt.Errorf("%w: cannot retry task in status %s", common.ErrInvalidState, t.status)
	}
	if t.status == models.StatusCompleted {
		if other := s.findByCourseLocked(t.courseID); other != nil {
			return fmt.Errorf("%w: task %s is %s", common.ErrTaskExists, other.id, other.status)
		}
	}

	t.next = 0
	t.completedBytes = 0
	t.currentBytes = 0
	t.retryCount = 0
	t.failures = nil
	t.lastErr = ""
	t.completedAt = time.Time{}
	t.status = models.StatusQueued
	heap.Push(&s.queue, t)
	s.emitLocked(models.EventStatus, t, "", "")
	s.signal()
	return nil
}

func (s *Scheduler) Get(id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookupLocked(id)
	if err != nil {
		return models.Task{}, err
	}
	return t.snapshot(), nil
}

// List returns snapshots of every task in creation order.
func (s *Scheduler) List() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Task, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, t.snapshot())
	}
	return out
}

// Idle reports whether nothing is running or waiting.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) == 0 && s.queue.Len() == 0
}

func (s *Scheduler) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline flips connectivity. Going offline pauses every running task
// with the connectivity reason; coming back resumes exactly those tasks,
// highest priority first, and leaves manual pauses alone.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return
	}
	s.online = online
	s.logger.Info(context.Background(), "connectivity changed", "online", online)

	if !online {
		for _, t := range s.order {
			if t.status.Active() {
				s.pauseLocked(t, models.PauseConnectivity)
			}
		}
		return
	}

	var resumable []*task
	for _, t := range s.order {
		if t.status == models.StatusPaused && t.pauseReason == models.PauseConnectivity {
			resumable = append(resumable, t)
		}
	}
	sort.SliceStable(resumable, func(i, j int) bool {
		if resumable[i].priority != resumable[j].priority {
			return resumable[i].priority > resumable[j].priority
		}
		return resumable[i].seq < resumable[j].seq
	})
	for _, t := range resumable {
		s.resumeLocked(t)
	}
	s.dispatchLocked()
}

func (s *Scheduler) checkConnectivity(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.prober.Probe(pctx)
	cancel()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Debug(ctx, "probe failed", "err", err)
	}
	s.SetOnline(err == nil)
}

// Subscribe returns a channel of task events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full;
// the scheduler never waits on a slow reader.
func (s *Scheduler) Subscribe(buffer int) (<-chan models.TaskEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.TaskEvent, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Scheduler) emitLocked(kind models.EventKind, t *task, fileID, errText string) {
	if len(s.subs) == 0 {
		return
	}
	ev := models.TaskEvent{Kind: kind, Task: t.snapshot(), FileID: fileID, Err: errText}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// errStale means the run lost its task to a pause, cancel or restart.
var errStale = errors.New("run superseded")
