package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"respiration-qa/internal/alerting"
	"respiration-qa/internal/config"
	"respiration-qa/internal/dataset"
	"respiration-qa/internal/pipeline"
	"respiration-qa/internal/scheduler"
	"respiration-qa/internal/storage"
)

// Analyzer runs a batch over patient directories.
type Analyzer interface {
	BatchProcessing(ctx context.Context, patients []string) (pipeline.BatchResult, error)
}

// Lister discovers patient groups under a data root.
type Lister func(root string) ([]dataset.Group, error)

// Report is the outcome of one analysis pass.
type Report struct {
	RunID         string
	At            time.Time
	Groups        int
	Patients      int
	Records       []storage.ResultRecord
	Failures      []Failure
	Notifications []alerting.Notification
	Skipped       bool
}

// Failure is a patient dropped from a pass.
type Failure struct {
	DataType string
	Err      *pipeline.UnitError
}

// Service orchestrates listing, analysis, persistence and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	analyzer  Analyzer
	list      Lister
	dataRoot  string
	store     storage.ResultStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	tolerances alerting.Tolerances
	channels   []string
	alertsOn   bool
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the analysis service. sched, store and notifier may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, analyzer Analyzer, list Lister, store storage.ResultStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if list == nil {
		list = dataset.List
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		analyzer:   analyzer,
		list:       list,
		dataRoot:   cfg.Analysis.DataRoot,
		store:      store,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		tolerances: alerting.NewTolerances(cfg.Alerting.ReproducibilityToleranceMM, cfg.Alerting.StabilityToleranceMM),
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Watch.AdvisoryLockKey,
	}
}

// Run repeats analysis passes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.Analyze(ctx, at)
		return err
	})
}

// Analyze executes one pass over the data root.
func (s *Service) Analyze(ctx context.Context, at time.Time) (Report, error) {
	runID := uuid.NewString()
	started := time.Now()
	logger := s.logger.With().Str("run_id", runID).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		passDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return Report{}, err
	}
	if !proceed {
		passDuration.WithLabelValues("skipped").Observe(time.Since(started).Seconds())
		logger.Info().Time("pass", at).Msg("skip pass because advisory lock held elsewhere")
		return Report{RunID: runID, At: at, Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	report, err := s.executePass(ctx, at, logger)
	status := "ok"
	if err != nil {
		status = "error"
	}
	passDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	report.RunID = runID
	return report, err
}

func (s *Service) executePass(ctx context.Context, at time.Time, logger zerolog.Logger) (Report, error) {
	groups, err := s.list(s.dataRoot)
	if err != nil {
		return Report{}, fmt.Errorf("list dataset: %w", err)
	}

	report := Report{At: at, Groups: len(groups), Patients: dataset.PatientCount(groups)}
	for _, group := range groups {
		batch, err := s.analyzer.BatchProcessing(ctx, group.Patients)
		if err != nil {
			return Report{}, fmt.Errorf("analyze %s: %w", group.DataType, err)
		}
		for _, f := range batch.Failures {
			report.Failures = append(report.Failures, Failure{DataType: group.DataType, Err: f})
		}
		records := storage.RecordsFromBatch(group.DataType, batch, at)
		report.Records = append(report.Records, records...)
		fractionsAnalyzed.WithLabelValues(group.DataType).Add(float64(len(records)))
		patientsFailed.WithLabelValues(group.DataType).Add(float64(len(batch.Failures)))
		logger.Info().Str("data_type", group.DataType).
			Int("patients", len(batch.Patients)).
			Int("failed", len(batch.Failures)).
			Msg("group analyzed")
	}

	if s.store != nil {
		if err := s.store.UpsertResults(ctx, report.Records); err != nil {
			return Report{}, fmt.Errorf("persist results: %w", err)
		}
	}

	if s.alertsOn {
		report.Notifications = s.tolerances.Evaluate(report.Records, s.channels)
		for _, note := range report.Notifications {
			tolerancesExceeded.WithLabelValues(string(note.Metric)).Inc()
			if s.notifier == nil {
				continue
			}
			if err := s.notifier.Notify(ctx, note); err != nil {
				logger.Error().Err(err).
					Str("patient", note.PatientID).
					Str("fraction", note.Fraction).
					Msg("failed to dispatch alert")
			}
		}
	}

	logger.Info().Time("pass", at).
		Int("records", len(report.Records)).
		Int("failures", len(report.Failures)).
		Int("alerts", len(report.Notifications)).
		Msg("analysis pass complete")
	return report, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
