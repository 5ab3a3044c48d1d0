package watcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/syncengine"
)

// Options tune the scheduler.
type Options struct {
	// MinPeriodSec floors every watcher's sync interval.
	MinPeriodSec int
	// FailureThreshold is how many consecutive failed syncs quarantine a
	// watcher.
	FailureThreshold int
	// Concurrency caps how many syncs run at once across all watchers.
	Concurrency int
}

// syncTimeout bounds how long a single sync may run.
const syncTimeout = 10 * time.Minute

// Scheduler runs one goroutine per active watcher, each syncing on the
// watcher's period, all sharing a global concurrency cap. Executions for
// one watcher are totally ordered by its run lock, so a manual sync can
// never overlap a scheduled one.
type Scheduler struct {
	repo   *Repository
	engine *syncengine.Engine
	opts   Options
	logger *log.Logger
	sem    chan struct{}

	mu       sync.Mutex
	running  bool
	tasks    map[int64]*task
	failures map[int64]int
	runLocks map[int64]*sync.Mutex
	wg       sync.WaitGroup
}

type task struct {
	watcher *Watcher
	stopCh  chan struct{}
	done    chan struct{} // closed when the loop goroutine returns
}

// NewScheduler creates the watcher scheduler.
func NewScheduler(repo *Repository, engine *syncengine.Engine, opts Options, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.MinPeriodSec <= 0 {
		opts.MinPeriodSec = 300
	}
	return &Scheduler{
		repo:     repo,
		engine:   engine,
		opts:     opts,
		logger:   logger,
		sem:      make(chan struct{}, opts.Concurrency),
		tasks:    make(map[int64]*task),
		failures: make(map[int64]int),
		runLocks: make(map[int64]*sync.Mutex),
	}
}

// Start launches a sync loop for every active watcher.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	watchers, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active watchers: %w", err)
	}
	for _, w := range watchers {
		s.StartWatcher(w)
	}
	s.logger.Printf("scheduler: started %d watcher(s)", len(watchers))
	return nil
}

// Shutdown stops every loop and waits for in-flight syncs, up to the
// context deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	for id, t := range s.tasks {
		close(t.stopCh)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartWatcher begins (or restarts) the loop for one watcher. A restart
// drains the replaced loop first, so an in-flight sync can never overlap
// the fresh loop's immediate one.
func (s *Scheduler) StartWatcher(w *Watcher) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if existing, ok := s.tasks[w.ID]; ok {
		close(existing.stopCh)
		delete(s.tasks, w.ID)
		s.mu.Unlock()
		<-existing.done
		s.mu.Lock()
	}
	if !s.running {
		s.mu.Unlock()
		return
	}
	if _, ok := s.tasks[w.ID]; ok {
		// A concurrent restart won the race; its loop is already fresh.
		s.mu.Unlock()
		return
	}
	t := &task{watcher: w, stopCh: make(chan struct{}), done: make(chan struct{})}
	s.tasks[w.ID] = t
	s.failures[w.ID] = 0
	s.wg.Add(1)
	go s.loop(t)
	s.mu.Unlock()
}

// StopWatcher halts the loop for one watcher and returns once the loop has
// wound down, leaving the row untouched. An in-flight sync has its context
// canceled, so it finishes the current upstream request and stops.
func (s *Scheduler) StopWatcher(id int64) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		close(t.stopCh)
		delete(s.tasks, id)
	}
	delete(s.failures, id)
	s.mu.Unlock()
	if ok {
		<-t.done
	}
}

// watcherLock returns the mutex that orders sync executions for one
// watcher. Locks are kept for the scheduler's lifetime so a run holding
// one can never race a freshly minted replacement.
func (s *Scheduler) watcherLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.runLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[id] = lock
	}
	return lock
}

// forget drops the task's bookkeeping. Called from the task's own
// goroutine, so unlike StopWatcher it never waits.
func (s *Scheduler) forget(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[t.watcher.ID]; ok && cur == t {
		delete(s.tasks, t.watcher.ID)
		delete(s.failures, t.watcher.ID)
	}
}

// Watching reports whether a loop is live for the watcher.
func (s *Scheduler) Watching(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// loop syncs immediately, then on every period tick until stopped.
func (s *Scheduler) loop(t *task) {
	defer s.wg.Done()
	defer close(t.done)

	period := t.watcher.Period(s.opts.MinPeriodSec)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	if !s.runOnce(t) {
		return
	}
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if !s.runOnce(t) {
				return
			}
		}
	}
}

// runOnce executes one scheduled sync under the watcher's run lock and the
// concurrency cap. It returns false when the loop should exit.
func (s *Scheduler) runOnce(t *task) bool {
	lock := s.watcherLock(t.watcher.ID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-t.stopCh:
		return false
	}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	go func() {
		// A stop mid-sync cancels the context so no further batch starts.
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w, err := s.repo.GetByID(ctx, t.watcher.ID)
	if err != nil {
		// Deleted out from under the loop.
		s.forget(t)
		return false
	}
	if !w.IsActive {
		s.forget(t)
		return false
	}
	t.watcher = w

	if _, err := s.runSync(ctx, w, journal.OpTypeScheduled); err != nil {
		select {
		case <-t.stopCh:
			// Interrupted by a stop, not a watcher failure.
			return false
		default:
		}
		s.recordFailure(ctx, w, err)
		return true
	}
	s.mu.Lock()
	s.failures[w.ID] = 0
	s.mu.Unlock()
	return true
}

// RunNow triggers one sync immediately, outside the schedule. Manual runs
// take the watcher's run lock, so they queue behind a scheduled sync in
// flight, and they share the concurrency cap and the failure accounting.
func (s *Scheduler) RunNow(ctx context.Context, w *Watcher) (*syncengine.Result, error) {
	lock := s.watcherLock(w.ID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	result, err := s.runSync(ctx, w, journal.OpTypeManual)
	if err != nil {
		s.recordFailure(ctx, w, err)
		return result, err
	}
	s.mu.Lock()
	s.failures[w.ID] = 0
	s.mu.Unlock()
	return result, nil
}

// Preview computes the diff for a watcher without applying it.
func (s *Scheduler) Preview(ctx context.Context, w *Watcher) (*syncengine.Plan, error) {
	return s.engine.Preview(ctx, requestFor(w, journal.OpTypeManual))
}

func (s *Scheduler) runSync(ctx context.Context, w *Watcher, opType journal.OperationType) (*syncengine.Result, error) {
	result, err := s.engine.Run(ctx, requestFor(w, opType))
	if result != nil && result.CreatedTargetPlaylistID != "" {
		if setErr := s.repo.SetTargetPlaylistID(ctx, w.ID, result.CreatedTargetPlaylistID); setErr != nil {
			s.logger.Printf("scheduler: persist created target playlist for watcher %d: %v", w.ID, setErr)
		} else {
			w.TargetPlaylistID = result.CreatedTargetPlaylistID
		}
	}
	if err != nil {
		return result, err
	}
	if touchErr := s.repo.TouchLastSync(ctx, w.ID, time.Now()); touchErr != nil {
		s.logger.Printf("scheduler: touch last sync for watcher %d: %v", w.ID, touchErr)
	}
	return result, nil
}

// recordFailure counts a failed sync. Credential failures deactivate the
// watcher immediately; anything else quarantines it after the threshold.
func (s *Scheduler) recordFailure(ctx context.Context, w *Watcher, err error) {
	if syncengine.IsAuthError(err) {
		s.logger.Printf("scheduler: watcher %d deactivated, credentials invalid: %v", w.ID, err)
		s.deactivate(ctx, w.ID, ReasonCredentials)
		return
	}

	s.mu.Lock()
	s.failures[w.ID]++
	count := s.failures[w.ID]
	s.mu.Unlock()

	s.logger.Printf("scheduler: watcher %d sync failed (%d/%d): %v", w.ID, count, s.opts.FailureThreshold, err)
	if count >= s.opts.FailureThreshold {
		s.logger.Printf("scheduler: watcher %d quarantined after %d consecutive failures", w.ID, count)
		s.deactivate(ctx, w.ID, ReasonQuarantined)
	}
}

// deactivate flips the row inactive and signals the loop. It must not wait
// for the loop to drain: the loop's own failure path lands here.
func (s *Scheduler) deactivate(ctx context.Context, id int64, reason string) {
	if err := s.repo.SetActive(ctx, id, false, reason); err != nil {
		s.logger.Printf("scheduler: deactivate watcher %d: %v", id, err)
	}
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		close(t.stopCh)
		delete(s.tasks, id)
	}
	delete(s.failures, id)
	s.mu.Unlock()
}

func requestFor(w *Watcher, opType journal.OperationType) syncengine.Request {
	return syncengine.Request{
		WatcherID:        w.ID,
		UserID:           w.UserID,
		SourceService:    w.SourceService,
		SourcePlaylistID: w.SourcePlaylistID,
		TargetService:    w.TargetService,
		TargetPlaylistID: w.TargetPlaylistID,
		TargetName:       w.Name,
		OpType:           opType,
	}
}
