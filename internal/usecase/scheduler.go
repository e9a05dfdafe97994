package usecase

import (
	"context"
	"log/slog"
	"time"

	"ThreatScanner/internal/ports"
)

// Scheduler wires the interval drivers with the pipeline cycles.
// Ingestion and enrichment run on independent cadences.
type Scheduler struct {
	ingestDriver ports.Scheduler
	enrichDriver ports.Scheduler
	pipeline     *Pipeline
	batchLimit   int
	logger       *slog.Logger
}

// NewScheduler returns a helper to start/stop both recurring jobs.
func NewScheduler(ingestDriver, enrichDriver ports.Scheduler, pipeline *Pipeline, batchLimit int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ingestDriver: ingestDriver,
		enrichDriver: enrichDriver,
		pipeline:     pipeline,
		batchLimit:   batchLimit,
		logger:       logger,
	}
}

// Start registers both cycles with their drivers. A failed cycle is
// logged and skipped; the next scheduled invocation retries.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.pipeline == nil {
		return nil
	}

	if s.ingestDriver != nil {
		err := s.ingestDriver.Start(ctx, func(time.Time) {
			if _, err := s.pipeline.RunIngestionCycle(ctx); err != nil {
				s.logError("ingestion cycle failed, skipping until next run", err)
			}
		})
		if err != nil {
			return err
		}
	}

	if s.enrichDriver != nil {
		err := s.enrichDriver.Start(ctx, func(time.Time) {
			if _, err := s.pipeline.RunEnrichmentCycle(ctx, s.batchLimit); err != nil {
				s.logError("enrichment cycle failed, skipping until next run", err)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Stop gracefully tears down both drivers.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.ingestDriver != nil {
		if err := s.ingestDriver.Stop(ctx); err != nil {
			return err
		}
	}
	if s.enrichDriver != nil {
		return s.enrichDriver.Stop(ctx)
	}
	return nil
}

func (s *Scheduler) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}
