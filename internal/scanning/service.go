package scanning

//go:generate mockgen -source=service.go -destination=mocks/mock_engine.go -package=mocks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/farmscan/internal/config"
	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/netrange"
	"github.com/anstrom/farmscan/internal/probe"
	"github.com/anstrom/farmscan/internal/workers"
)

// Engine is the scan engine as seen by the API and the CLI.
type Engine interface {
	CreateScan(specs []netrange.Spec) (string, error)
	GetScan(id string) (workers.TaskSnapshot, error)
	Stats() workers.Stats
	UpdateConfig(update ConfigUpdate) (EngineConfig, error)
	DeleteScan(id string) error
	DeleteAllScans() int
	Running() bool
}

// ConfigUpdate carries a partial live reconfiguration. Nil fields are left
// untouched.
type ConfigUpdate struct {
	Concurrency *int
	Timeout     *time.Duration
}

// EngineConfig is the live engine configuration as reported to clients.
type EngineConfig struct {
	Concurrency int   `json:"concurrency"`
	TimeoutMS   int64 `json:"timeout"`
}

// Service ties range resolution, the worker pool and the retention sweep
// together.
type Service struct {
	pool         *workers.Pool
	maxAddresses int
	retention    time.Duration
	schedule     string
	shutdownWait time.Duration

	cron   *cron.Cron
	logger *logging.Logger
}

// NewService builds a service over a fresh worker pool. Workers start
// immediately; the retention sweep starts with Start.
func NewService(cfg config.ScanningConfig, prober probe.Prober, opts ...workers.Option) *Service {
	poolCfg := workers.Config{
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
	}
	if cfg.RateLimit.Enabled {
		poolCfg.RateLimit = cfg.RateLimit.ProbesPerSecond
		poolCfg.RateBurst = cfg.RateLimit.Burst
	}

	return &Service{
		pool:         workers.New(poolCfg, prober, opts...),
		maxAddresses: cfg.MaxAddresses,
		retention:    cfg.Retention,
		schedule:     cfg.RetentionSchedule,
		shutdownWait: cfg.ShutdownTimeout,
		cron:         cron.New(),
		logger:       logging.Default().WithComponent("scanning"),
	}
}

// Start schedules the retention sweep. A zero retention disables it.
func (s *Service) Start() error {
	if s.retention <= 0 || s.schedule == "" {
		s.logger.Info("Task retention disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.prune); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "Invalid retention schedule", err)
	}
	s.cron.Start()

	s.logger.Info("Task retention sweep started",
		"retention", s.retention,
		"schedule", s.schedule)
	return nil
}

func (s *Service) prune() {
	if n := s.pool.PruneCompleted(s.retention); n > 0 {
		s.logger.Info("Pruned completed scan tasks", "count", n)
	}
}

// Shutdown stops the retention sweep and the worker pool, waiting for
// workers up to ctx or the configured shutdown timeout, whichever is
// sooner.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.shutdownWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownWait)
		defer cancel()
	}

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}

	return s.pool.Shutdown(ctx)
}

// CreateScan resolves specs and registers a task over the result.
func (s *Service) CreateScan(specs []netrange.Spec) (string, error) {
	if !s.pool.Running() {
		return "", errors.ErrNotRunning().WithOperation("create_scan")
	}

	addresses, err := netrange.Resolve(specs, s.maxAddresses)
	if err != nil {
		s.logger.WithError(err).Debug("Scan ranges rejected", "ranges", len(specs))
		return "", err
	}

	return s.pool.Create(addresses)
}

// GetScan returns a snapshot of the task.
func (s *Service) GetScan(id string) (workers.TaskSnapshot, error) {
	snap, ok := s.pool.Retrieve(id)
	if !ok {
		return workers.TaskSnapshot{}, errors.ErrTaskNotFound(id)
	}
	return snap, nil
}

// Stats returns the engine stats.
func (s *Service) Stats() workers.Stats {
	return s.pool.Stats()
}

// UpdateConfig validates and applies a live configuration change. Nothing
// is applied unless every supplied field is in bounds.
func (s *Service) UpdateConfig(update ConfigUpdate) (EngineConfig, error) {
	if update.Concurrency != nil {
		n := *update.Concurrency
		if n < config.MinConcurrency || n > config.MaxConcurrency {
			return EngineConfig{}, errors.ErrConfigInvalid("concurrency", n)
		}
	}
	if update.Timeout != nil {
		d := *update.Timeout
		if d < config.MinTimeout || d > config.MaxTimeout {
			return EngineConfig{}, errors.ErrConfigInvalid("timeout", d)
		}
	}

	if update.Concurrency != nil {
		if err := s.pool.SetConcurrency(*update.Concurrency); err != nil {
			return EngineConfig{}, err
		}
	}
	if update.Timeout != nil {
		if err := s.pool.SetTimeout(*update.Timeout); err != nil {
			return EngineConfig{}, err
		}
	}

	return s.Config(), nil
}

// Config returns the live engine configuration.
func (s *Service) Config() EngineConfig {
	cfg := s.pool.Configs()
	return EngineConfig{
		Concurrency: cfg.Concurrency,
		TimeoutMS:   cfg.Timeout.Milliseconds(),
	}
}

// DeleteScan removes a task.
func (s *Service) DeleteScan(id string) error {
	if !s.pool.Delete(id) {
		return errors.ErrTaskNotFound(id)
	}
	return nil
}

// DeleteAllScans removes every task and returns how many were removed.
func (s *Service) DeleteAllScans() int {
	return s.pool.DeleteAll()
}

// Running reports whether the engine accepts work.
func (s *Service) Running() bool {
	return s.pool.Running()
}

// Wait polls the task every interval until it is complete, it disappears
// or ctx ends. onProgress, when set, sees every intermediate snapshot.
func (s *Service) Wait(ctx context.Context, id string, interval time.Duration,
	onProgress func(workers.TaskSnapshot)) (workers.TaskSnapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := s.GetScan(id)
		if err != nil {
			return workers.TaskSnapshot{}, err
		}
		if onProgress != nil {
			onProgress(snap)
		}
		if snap.Done {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, errors.WrapScanError(errors.CodeCanceled, "Stopped waiting for scan", ctx.Err())
		case <-ticker.C:
		}
	}
}
