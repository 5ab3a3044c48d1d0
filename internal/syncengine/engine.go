package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mthorsen/playlistwatch/internal/catalog"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/provider"
	"github.com/mthorsen/playlistwatch/internal/songlink"
)

// Notifier receives finished operations; the event feed implements it.
type Notifier interface {
	SyncFinished(op *journal.Operation)
}

// Resolver maps a track onto another service. *songlink.Resolver is the
// production implementation.
type Resolver interface {
	Resolve(ctx context.Context, track provider.Track, target provider.Service) (*songlink.Match, error)
}

// Request identifies one sync to plan or run.
type Request struct {
	WatcherID        int64
	UserID           int64
	SourceService    provider.Service
	SourcePlaylistID string
	TargetService    provider.Service
	TargetPlaylistID string // empty means create one
	TargetName       string // name for a created target playlist
	OpType           journal.OperationType
}

// Plan is the computed diff for one sync, before anything is applied.
type Plan struct {
	SourceTotal int              `json:"source_total"`
	TargetTotal int              `json:"target_total"`
	ToAdd       []provider.Track `json:"to_add"`
	ToRemove    []provider.Track `json:"to_remove"`
	Unresolved  []provider.Track `json:"unresolved"`
}

// Result is a finished sync.
type Result struct {
	Operation *journal.Operation `json:"operation"`
	// CreatedTargetPlaylistID is set when the run created the target
	// playlist; the caller persists it on the watcher.
	CreatedTargetPlaylistID string `json:"created_target_playlist_id,omitempty"`
}

// Engine plans and applies playlist syncs.
type Engine struct {
	registry *provider.Registry
	resolver Resolver
	catalog  *catalog.Repository
	journal  *journal.Repository
	notifier Notifier
	logger   *log.Logger
}

// NewEngine wires the sync engine. notifier may be nil.
func NewEngine(registry *provider.Registry, resolver Resolver, cat *catalog.Repository, jour *journal.Repository, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry: registry,
		resolver: resolver,
		catalog:  cat,
		journal:  jour,
		notifier: notifier,
		logger:   logger,
	}
}

// Preview computes the diff without touching the target playlist or the
// journal. A request without a target playlist previews everything as an
// addition.
func (e *Engine) Preview(ctx context.Context, req Request) (*Plan, error) {
	source, err := e.registry.Lookup(req.SourceService)
	if err != nil {
		return nil, err
	}
	sourceTracks, err := source.GetPlaylistTracks(ctx, req.UserID, req.SourcePlaylistID)
	if err != nil {
		return nil, err
	}
	sourceTracks = dedupe(sourceTracks)

	var targetTracks []provider.Track
	if req.TargetPlaylistID != "" {
		target, err := e.registry.Lookup(req.TargetService)
		if err != nil {
			return nil, err
		}
		targetTracks, err = target.GetPlaylistTracks(ctx, req.UserID, req.TargetPlaylistID)
		if err != nil {
			return nil, err
		}
	}
	return e.plan(ctx, req, sourceTracks, targetTracks)
}

// plan resolves each source track onto the target service and diffs the
// resolved set against the target playlist.
func (e *Engine) plan(ctx context.Context, req Request, sourceTracks, targetTracks []provider.Track) (*Plan, error) {
	targetIDs := make(map[string]struct{}, len(targetTracks))
	targetMeta := make(map[string]struct{}, len(targetTracks))
	for _, track := range targetTracks {
		targetIDs[track.ExternalID] = struct{}{}
		targetMeta[metadataKey(track)] = struct{}{}
	}

	plan := &Plan{
		SourceTotal: len(sourceTracks),
		TargetTotal: len(targetTracks),
	}

	// wantIDs and wantMeta are what the target should contain after the
	// sync; removals are diffed against them.
	wantIDs := make(map[string]struct{}, len(sourceTracks))
	wantMeta := make(map[string]struct{}, len(sourceTracks))

	for _, track := range sourceTracks {
		wantMeta[metadataKey(track)] = struct{}{}

		if track.Service == req.TargetService {
			// Same-service sync needs no resolution.
			wantIDs[track.ExternalID] = struct{}{}
			if _, present := targetIDs[track.ExternalID]; !present {
				plan.ToAdd = append(plan.ToAdd, track)
			}
			continue
		}

		match, err := e.resolver.Resolve(ctx, track, req.TargetService)
		if err == songlink.ErrNoMatch {
			// Fall back to metadata: if an equivalent is already on the
			// target, count it as present instead of unresolved.
			if _, present := targetMeta[metadataKey(track)]; present {
				continue
			}
			plan.Unresolved = append(plan.Unresolved, track)
			continue
		}
		if err != nil {
			// A resolver outage costs this track, not the sync; the next
			// run retries it.
			e.logger.Printf("syncengine: resolve %q on %s: %v", track.Title, req.TargetService, err)
			plan.Unresolved = append(plan.Unresolved, track)
			continue
		}

		wantIDs[match.ExternalID] = struct{}{}
		if _, present := targetIDs[match.ExternalID]; present {
			continue
		}
		if _, present := targetMeta[metadataKey(track)]; present {
			continue
		}
		resolved := track
		resolved.Service = req.TargetService
		resolved.ExternalID = match.ExternalID
		resolved.URL = match.URL
		plan.ToAdd = append(plan.ToAdd, resolved)
	}

	for _, track := range targetTracks {
		if _, wanted := wantIDs[track.ExternalID]; wanted {
			continue
		}
		if _, wanted := wantMeta[metadataKey(track)]; wanted {
			continue
		}
		plan.ToRemove = append(plan.ToRemove, track)
	}
	return plan, nil
}

// Run executes one sync end to end: journal begin, plan, apply, catalog
// update, journal finish. The journal row always reaches a terminal status,
// whatever goes wrong in between.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	op, err := e.journal.Begin(ctx, req.WatcherID, req.OpType)
	if err != nil {
		return nil, err
	}

	result, outcome, runErr := e.run(ctx, req)
	status := outcome.StatusFor(runErr != nil)
	if runErr != nil && outcome.ErrorMessage == "" {
		outcome.ErrorMessage = runErr.Error()
	}

	// The row must reach a terminal status even when the sync was canceled,
	// so the journal writes run on a detached context.
	finishCtx := context.WithoutCancel(ctx)
	if finishErr := e.journal.Finish(finishCtx, op.ID, status, outcome); finishErr != nil && finishErr != journal.ErrAlreadyFinished {
		e.logger.Printf("syncengine: finish journal row %d: %v", op.ID, finishErr)
	}
	finished, getErr := e.journal.GetByID(finishCtx, op.ID)
	if getErr != nil {
		finished = op
	}
	if e.notifier != nil {
		e.notifier.SyncFinished(finished)
	}

	if result == nil {
		result = &Result{}
	}
	result.Operation = finished
	return result, runErr
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, journal.Outcome, error) {
	var outcome journal.Outcome
	result := &Result{}

	source, err := e.registry.Lookup(req.SourceService)
	if err != nil {
		return result, outcome, err
	}
	target, err := e.registry.Lookup(req.TargetService)
	if err != nil {
		return result, outcome, err
	}

	sourceTracks, err := source.GetPlaylistTracks(ctx, req.UserID, req.SourcePlaylistID)
	if err != nil {
		return result, outcome, fmt.Errorf("read source playlist: %w", err)
	}
	sourceTracks = dedupe(sourceTracks)

	sourceMeta, err := source.GetPlaylist(ctx, req.UserID, req.SourcePlaylistID)
	if err != nil {
		return result, outcome, fmt.Errorf("read source playlist: %w", err)
	}

	targetPlaylistID := req.TargetPlaylistID
	var targetTracks []provider.Track
	if targetPlaylistID == "" {
		name := req.TargetName
		if name == "" {
			name = sourceMeta.Name
		}
		created, err := target.CreatePlaylist(ctx, req.UserID, name, "Mirrored from "+sourceMeta.Name, false)
		if err != nil {
			return result, outcome, fmt.Errorf("create target playlist: %w", err)
		}
		targetPlaylistID = created.ExternalID
		result.CreatedTargetPlaylistID = created.ExternalID
		e.logger.Printf("syncengine: created target playlist %s on %s for watcher %d", created.ExternalID, req.TargetService, req.WatcherID)
	} else {
		targetTracks, err = target.GetPlaylistTracks(ctx, req.UserID, targetPlaylistID)
		if err != nil {
			return result, outcome, fmt.Errorf("read target playlist: %w", err)
		}
	}

	plan, err := e.plan(ctx, Request{
		WatcherID:        req.WatcherID,
		UserID:           req.UserID,
		SourceService:    req.SourceService,
		SourcePlaylistID: req.SourcePlaylistID,
		TargetService:    req.TargetService,
		TargetPlaylistID: targetPlaylistID,
	}, sourceTracks, targetTracks)
	if err != nil {
		return result, outcome, err
	}
	outcome.SongsFailed = len(plan.Unresolved)

	addIDs := make([]string, len(plan.ToAdd))
	for i, track := range plan.ToAdd {
		addIDs[i] = track.ExternalID
	}
	added, addFailed, err := applyBatched(ctx, addIDs, func(ctx context.Context, chunk []string) error {
		return target.AddTracks(ctx, req.UserID, targetPlaylistID, chunk)
	})
	outcome.SongsAdded = added
	outcome.SongsFailed += addFailed
	if err != nil {
		return result, outcome, fmt.Errorf("add tracks: %w", err)
	}

	removeIDs := make([]string, len(plan.ToRemove))
	for i, track := range plan.ToRemove {
		removeIDs[i] = track.ExternalID
	}
	removed, removeFailed, err := applyBatched(ctx, removeIDs, func(ctx context.Context, chunk []string) error {
		return target.RemoveTracks(ctx, req.UserID, targetPlaylistID, chunk)
	})
	outcome.SongsRemoved = removed
	outcome.SongsFailed += removeFailed
	if err != nil {
		return result, outcome, fmt.Errorf("remove tracks: %w", err)
	}

	if len(plan.Unresolved) > 0 {
		names := make([]string, 0, len(plan.Unresolved))
		for _, track := range plan.Unresolved {
			names = append(names, track.Title)
			if len(names) == 5 {
				break
			}
		}
		outcome.ErrorMessage = fmt.Sprintf("%d tracks could not be resolved on %s: %s",
			len(plan.Unresolved), req.TargetService, strings.Join(names, ", "))
	}

	e.recordCatalog(ctx, req, sourceMeta, sourceTracks)
	return result, outcome, nil
}

// recordCatalog upserts the source playlist and its tracks. Catalog failures
// are logged, not fatal; the sync itself already succeeded.
func (e *Engine) recordCatalog(ctx context.Context, req Request, sourceMeta *provider.Playlist, tracks []provider.Track) {
	playlistID, err := e.catalog.UpsertPlaylist(ctx, *sourceMeta)
	if err != nil {
		e.logger.Printf("syncengine: catalog playlist upsert: %v", err)
		return
	}
	songIDs := make([]int64, 0, len(tracks))
	for _, track := range tracks {
		songID, err := e.catalog.UpsertSong(ctx, track)
		if err != nil {
			e.logger.Printf("syncengine: catalog song upsert: %v", err)
			continue
		}
		songIDs = append(songIDs, songID)
	}
	if err := e.catalog.ReplacePlaylistTracks(ctx, playlistID, songIDs); err != nil {
		e.logger.Printf("syncengine: catalog membership rewrite: %v", err)
	}
}

// IsAuthError reports whether a sync failure traces back to credentials,
// which deactivates the watcher instead of counting toward quarantine.
func IsAuthError(err error) bool {
	return errors.Is(err, credentials.ErrNotLinked) ||
		errors.Is(err, credentials.ErrTokenExpired) ||
		errors.Is(err, credentials.ErrAuthenticationFailed)
}
