package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/progress"
	"github.com/JakeFAU/site-cloner/internal/store"
)

// StoreSink writes job history through a store.HistoryRepository. Page events
// are collapsed into one counter update per job and batch.
type StoreSink struct {
	repo   store.HistoryRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.HistoryRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies batch in order. A job's pending page counters are written
// before its terminal row so finished runs carry complete totals.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[string]*store.PageDelta)
	var order []string

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			if err := s.repo.StartRun(ctx, store.RunStart{
				JobID:     evt.JobID,
				URL:       evt.URL,
				FullSite:  evt.FullSite,
				StartedAt: evt.TS,
			}); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePhase:
			if err := s.repo.UpdatePhase(ctx, evt.JobID, evt.Phase, evt.TS); err != nil {
				return fmt.Errorf("update phase: %w", err)
			}
		case progress.StagePageCaptured, progress.StagePageFailed:
			d, ok := pending[evt.JobID]
			if !ok {
				d = &store.PageDelta{}
				pending[evt.JobID] = d
				order = append(order, evt.JobID)
			}
			if evt.Stage == progress.StagePageCaptured {
				d.Captured++
				d.Bytes += evt.Bytes
			} else {
				d.Failed++
			}
			if evt.TS.After(d.At) {
				d.At = evt.TS
			}
		case progress.StageJobDone, progress.StageJobError:
			if err := s.flushPages(ctx, evt.JobID, pending); err != nil {
				return err
			}
			if err := s.repo.FinishRun(ctx, evt.JobID, finishFor(evt)); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
	}
	for _, id := range order {
		if err := s.flushPages(ctx, id, pending); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flushPages(ctx context.Context, jobID string, pending map[string]*store.PageDelta) error {
	d, ok := pending[jobID]
	if !ok {
		return nil
	}
	delete(pending, jobID)
	if err := s.repo.AddPages(ctx, jobID, *d); err != nil {
		return fmt.Errorf("add pages: %w", err)
	}
	return nil
}

func finishFor(evt progress.Event) store.RunFinish {
	finish := store.RunFinish{
		Status:     store.RunCompleted,
		FinishedAt: evt.TS,
		Assets:     int64(evt.Assets),
	}
	if evt.Stage == progress.StageJobError {
		finish.Status = store.RunFailed
		if evt.Note != "" {
			note := evt.Note
			finish.Error = &note
		}
	}
	return finish
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
