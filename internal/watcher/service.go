package watcher

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/syncengine"
)

// Service validates and applies watcher operations, keeping the scheduler
// in step with the rows.
type Service struct {
	repo      *Repository
	journal   *journal.Repository
	scheduler *Scheduler
	logger    *log.Logger
}

// NewService creates the watcher service.
func NewService(repo *Repository, jour *journal.Repository, scheduler *Scheduler, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, journal: jour, scheduler: scheduler, logger: logger}
}

// Create validates the input, stores the watcher, and starts its loop.
func (s *Service) Create(ctx context.Context, userID int64, input CreateInput) (*Watcher, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !input.SourceService.Known() {
		return nil, fmt.Errorf("unknown source service %q", input.SourceService)
	}
	if !input.TargetService.Known() {
		return nil, fmt.Errorf("unknown target service %q", input.TargetService)
	}
	if input.SourcePlaylistID == "" {
		return nil, fmt.Errorf("source_playlist_id is required")
	}
	if input.SourceService == input.TargetService {
		return nil, fmt.Errorf("source and target must be different services")
	}

	freq := input.SyncFrequencySec
	if freq < s.scheduler.opts.MinPeriodSec {
		freq = s.scheduler.opts.MinPeriodSec
	}

	created, err := s.repo.Create(ctx, &Watcher{
		UserID:           userID,
		Name:             input.Name,
		SourceService:    input.SourceService,
		SourcePlaylistID: input.SourcePlaylistID,
		TargetService:    input.TargetService,
		TargetPlaylistID: input.TargetPlaylistID,
		SyncFrequencySec: freq,
	})
	if err != nil {
		return nil, err
	}
	s.scheduler.StartWatcher(created)
	return created, nil
}

// Update applies changes, clamping frequency, and restarts the loop when
// the period changed on an active watcher.
func (s *Service) Update(ctx context.Context, id, userID int64, input UpdateInput) (*Watcher, error) {
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		input.Name = &trimmed
	}
	if input.SyncFrequencySec != nil && *input.SyncFrequencySec < s.scheduler.opts.MinPeriodSec {
		clamped := s.scheduler.opts.MinPeriodSec
		input.SyncFrequencySec = &clamped
	}

	updated, err := s.repo.Update(ctx, id, userID, input)
	if err != nil {
		return nil, err
	}
	if updated.IsActive && input.SyncFrequencySec != nil {
		s.scheduler.StartWatcher(updated)
	}
	return updated, nil
}

// Get returns the user's watcher.
func (s *Service) Get(ctx context.Context, id, userID int64) (*Watcher, error) {
	return s.repo.GetForUser(ctx, id, userID)
}

// List returns the user's watchers.
func (s *Service) List(ctx context.Context, userID int64) ([]*Watcher, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Activate re-enables a watcher, clearing any quarantine, and starts its
// loop.
func (s *Service) Activate(ctx context.Context, id, userID int64) (*Watcher, error) {
	w, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, true, ""); err != nil {
		return nil, err
	}
	w, err = s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	s.scheduler.StartWatcher(w)
	return w, nil
}

// Deactivate turns a watcher off and stops its loop.
func (s *Service) Deactivate(ctx context.Context, id, userID int64) (*Watcher, error) {
	if _, err := s.repo.GetForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, false, "user"); err != nil {
		return nil, err
	}
	s.scheduler.StopWatcher(id)
	return s.repo.GetForUser(ctx, id, userID)
}

// Delete removes the watcher and halts its loop.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return err
	}
	s.scheduler.StopWatcher(id)
	return nil
}

// SyncNow runs one manual sync for the user's watcher.
func (s *Service) SyncNow(ctx context.Context, id, userID int64) (*syncengine.Result, error) {
	w, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.scheduler.RunNow(ctx, w)
}

// Preview computes the pending diff for the user's watcher.
func (s *Service) Preview(ctx context.Context, id, userID int64) (*syncengine.Plan, error) {
	w, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Preview(ctx, w)
}

// Operations returns the watcher's journal, newest first.
func (s *Service) Operations(ctx context.Context, id, userID int64, limit, offset int) ([]*journal.Operation, error) {
	if _, err := s.repo.GetForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.journal.ListByWatcher(ctx, id, limit, offset)
}
