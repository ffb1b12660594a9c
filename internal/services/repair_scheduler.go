package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
	"koi-auction/internal/saga"
	"koi-auction/pkg/logger"
)

type RepairConfig struct {
	Schedule    string
	MaxAttempts int
	BatchSize   int
}

// RepairReport summarizes one pass over the runs left in compensation_failed.
type RepairReport struct {
	Scanned   int      `json:"scanned"`
	Repaired  []string `json:"repaired"`
	Failed    []string `json:"failed"`
	Abandoned []string `json:"abandoned"`
}

// RepairScheduler replays failed compensations on a cron schedule. Only the
// elected leader does the work.
type RepairScheduler struct {
	cron       *cron.Cron
	cfg        RepairConfig
	store      saga.LogStore
	sagas      *saga.Runner
	cache      *querycache.Client
	alerts     domain.AlertPublisher
	leader     domain.LeaderElection
	instanceID string
	log        logger.Logger

	// one pass at a time, whether triggered by cron or by the API
	passMu sync.Mutex
}

func NewRepairScheduler(cfg RepairConfig, store saga.LogStore, sagas *saga.Runner, cache *querycache.Client,
	alerts domain.AlertPublisher, leader domain.LeaderElection, instanceID string, log logger.Logger) *RepairScheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	return &RepairScheduler{
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		store:      store,
		sagas:      sagas,
		cache:      cache,
		alerts:     alerts,
		leader:     leader,
		instanceID: instanceID,
		log:        log,
	}
}

func (s *RepairScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting repair scheduler", "schedule", s.cfg.Schedule)

	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if !s.isLeader(ctx) {
			return
		}
		report, err := s.RunOnce(ctx)
		if err != nil {
			s.log.Error("Repair pass failed", "error", err)
			return
		}
		if report.Scanned > 0 {
			s.log.Info("Repair pass finished", "scanned", report.Scanned, "repaired", len(report.Repaired),
				"failed", len(report.Failed), "abandoned", len(report.Abandoned))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid repair schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	return nil
}

func (s *RepairScheduler) Stop() error {
	s.log.Info("Stopping repair scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// RunOnce replays every pending compensation once and invalidates the queries
// each repaired or abandoned run touched.
func (s *RepairScheduler) RunOnce(ctx context.Context) (*RepairReport, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	runs, err := s.store.ListRuns(ctx, saga.StateCompensationFailed, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed compensations: %w", err)
	}

	report := &RepairReport{Scanned: len(runs)}
	for _, run := range runs {
		log := s.log.With("saga_id", run.ID, "saga", run.Name)

		if run.Attempts >= s.cfg.MaxAttempts {
			reason := fmt.Sprintf("gave up after %d repair attempts", run.Attempts)
			if err := s.sagas.Abandon(ctx, run, reason); err != nil {
				log.Error("Failed to abandon saga run", "error", err)
				continue
			}
			log.Warn("Abandoned saga repair", "attempts", run.Attempts)
			s.alert(ctx, log, run, reason)
			s.invalidate(ctx, log, run)
			report.Abandoned = append(report.Abandoned, run.ID)
			continue
		}

		if err := s.sagas.Replay(ctx, run); err != nil {
			log.Warn("Repair attempt failed", "attempt", run.Attempts, "error", err)
			report.Failed = append(report.Failed, run.ID)
			continue
		}
		log.Info("Repaired saga run", "attempt", run.Attempts)
		s.invalidate(ctx, log, run)
		report.Repaired = append(report.Repaired, run.ID)
	}
	return report, nil
}

func (s *RepairScheduler) isLeader(ctx context.Context) bool {
	if s.leader == nil {
		return true
	}
	ok, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Failed to check leadership", "error", err)
		return false
	}
	return ok
}

func (s *RepairScheduler) invalidate(ctx context.Context, log logger.Logger, run *saga.Run) {
	keys := domain.SplitQueryKeys(run.Metadata[MetadataInvalidate])
	if len(keys) == 0 {
		return
	}
	if _, err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.Error("Failed to invalidate repaired queries", "error", err)
	}
}

func (s *RepairScheduler) alert(ctx context.Context, log logger.Logger, run *saga.Run, reason string) {
	if s.alerts == nil {
		return
	}
	var step, lastErr string
	if len(run.Pending) > 0 {
		step = run.Pending[0].Step
		lastErr = run.Pending[0].Error
	}
	alert := domain.CompensationAlert{
		SagaID:    run.ID,
		Saga:      run.Name,
		Step:      step,
		Cause:     reason,
		Error:     lastErr,
		Metadata:  run.Metadata,
		Abandoned: true,
		Timestamp: time.Now(),
	}
	if err := s.alerts.PublishCompensationFailed(ctx, alert); err != nil {
		log.Error("Failed to publish abandon alert", "error", err)
	}
}
