// Package workers provides the resizable probe worker pool that drains scan
// tasks. Workers interleave fairly between tasks, the pool can be resized and
// retimed while running, and teardown never leaves goroutines behind.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/logging"
	"github.com/anstrom/farmscan/internal/metrics"
	"github.com/anstrom/farmscan/internal/probe"
)

// Config holds configuration for the worker pool.
type Config struct {
	// Concurrency is the number of probe workers.
	Concurrency int
	// Timeout bounds each probe. Changes apply to probes dispatched later.
	Timeout time.Duration
	// RateLimit caps probes per second across the pool (0 = no limit).
	RateLimit float64
	// RateBurst is the limiter burst size.
	RateBurst int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 200,
		Timeout:     2 * time.Second,
	}
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRecorder reports pool activity to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLogger replaces the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool owns the scan task registry and the workers that drain it. All
// bookkeeping is guarded by mu; probes run outside the lock.
type Pool struct {
	prober   probe.Prober
	recorder metrics.Recorder
	logger   *logging.Logger

	mu   sync.Mutex
	cond *sync.Cond

	tasks      map[string]*task
	order      []string
	lastServed string

	workers      map[int]struct{}
	parked       map[int]struct{}
	nextWorkerID int

	concurrency int
	timeout     time.Duration
	running     bool

	limiter       *rate.Limiter
	limiterCtx    context.Context
	limiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// New creates a running pool and starts cfg.Concurrency workers.
func New(cfg Config, prober probe.Prober, opts ...Option) *Pool {
	p := &Pool{
		prober:   prober,
		recorder: metrics.Nop{},
		logger:   logging.Default().WithComponent("workers"),
		tasks:    make(map[string]*task),
		workers:  make(map[int]struct{}),
		parked:   make(map[int]struct{}),
		timeout:  cfg.Timeout,
		running:  true,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		p.limiterCtx, p.limiterCancel = context.WithCancel(context.Background())
	}

	p.logger.Info("Starting worker pool",
		"concurrency", cfg.Concurrency,
		"timeout", cfg.Timeout,
		"rate_limit", cfg.RateLimit)

	p.mu.Lock()
	p.resizeLocked(cfg.Concurrency)
	p.mu.Unlock()

	return p
}

// Create registers a new task over addresses and returns its id. Duplicate
// addresses are probed once.
func (p *Pool) Create(addresses []string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.WrapScanError(errors.CodeUnknown, "Failed to generate task id", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return "", errors.ErrNotRunning().WithOperation("create")
	}

	t := newTask(id.String(), addresses, time.Now())
	p.tasks[t.id] = t
	p.order = append(p.order, t.id)
	p.cond.Broadcast()

	p.recorder.TaskCreated(t.total)
	p.publishLocked()
	p.logger.WithTaskID(t.id).Info("Scan task created", "addresses", t.total)

	return t.id, nil
}

// Retrieve returns a snapshot of the task, or false when it is unknown.
func (p *Pool) Retrieve(id string) (TaskSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.snapshot(), true
}

// Delete removes a task. Probes already in flight for it finish and are
// discarded.
func (p *Pool) Delete(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tasks[id]; !ok {
		return false
	}
	p.removeLocked(id)
	p.cond.Broadcast()
	p.publishLocked()
	p.logger.WithTaskID(id).Info("Scan task deleted")
	return true
}

// DeleteAll removes every task and returns how many there were.
func (p *Pool) DeleteAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.tasks)
	p.tasks = make(map[string]*task)
	p.order = nil
	p.lastServed = ""
	p.cond.Broadcast()
	p.publishLocked()
	if n > 0 {
		p.logger.Info("All scan tasks deleted", "count", n)
	}
	return n
}

// PruneCompleted deletes completed tasks that finished more than olderThan
// ago and returns how many were removed.
func (p *Pool) PruneCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []string
	for _, id := range p.order {
		t := p.tasks[id]
		if t.done() && !t.completedAt.After(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		p.removeLocked(id)
	}
	if len(stale) > 0 {
		p.recorder.TasksPruned(len(stale))
		p.publishLocked()
		p.logger.Debug("Pruned completed scan tasks", "count", len(stale))
	}
	return len(stale)
}

// SetConcurrency resizes the pool. Negative values are treated as zero.
func (p *Pool) SetConcurrency(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return errors.ErrNotRunning().WithOperation("set_concurrency")
	}
	if n < 0 {
		n = 0
	}

	old := p.concurrency
	p.resizeLocked(n)
	p.logger.Info("Worker pool resized", "from", old, "to", n)
	return nil
}

// SetTimeout changes the per-probe timeout for probes dispatched from now on.
func (p *Pool) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return errors.ErrConfigInvalid("timeout", d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return errors.ErrNotRunning().WithOperation("set_timeout")
	}
	p.timeout = d
	p.logger.Info("Probe timeout updated", "timeout", d)
	return nil
}

// Configs returns the live concurrency and timeout.
func (p *Pool) Configs() Config {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := Config{Concurrency: p.concurrency, Timeout: p.timeout}
	if p.limiter != nil {
		cfg.RateLimit = float64(p.limiter.Limit())
		cfg.RateBurst = p.limiter.Burst()
	}
	return cfg
}

// Stats returns a snapshot of the pool and its tasks.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Concurrency: p.concurrency,
		TimeoutMS:   p.timeout.Milliseconds(),
		Workers: WorkerStats{
			Waiting: len(p.parked),
			Running: len(p.workers),
		},
		Tasks: make([]TaskSummary, 0, len(p.order)),
	}
	for _, id := range p.order {
		s.Tasks = append(s.Tasks, p.tasks[id].summary())
	}
	return s
}

// Running reports whether the pool still accepts work.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Destroy stops the pool. Every worker exits at its next loop check,
// parked workers are woken and all tasks are dropped. Probes in flight
// run to their own timeout and their results are discarded. Idempotent.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.concurrency = 0
	p.workers = make(map[int]struct{})
	p.tasks = make(map[string]*task)
	p.order = nil
	p.lastServed = ""
	p.cond.Broadcast()
	p.publishLocked()
	p.mu.Unlock()

	if p.limiterCancel != nil {
		p.limiterCancel()
	}
	p.logger.Info("Worker pool destroyed")
}

// Shutdown destroys the pool and waits for worker goroutines to exit, up
// to ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Destroy()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool shutdown completed")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool shutdown timed out, workers still finishing probes")
		return errors.WrapScanError(errors.CodeTimeout, "Timed out waiting for workers", ctx.Err())
	}
}

// resizeLocked brings the running set to n members. Scale down removes
// parked workers first.
func (p *Pool) resizeLocked(n int) {
	p.concurrency = n
	current := len(p.workers)

	switch {
	case n > current:
		for i := current; i < n; i++ {
			id := p.nextWorkerID
			p.nextWorkerID++
			p.workers[id] = struct{}{}
			p.wg.Add(1)
			go p.runWorker(id)
		}
	case n < current:
		excess := current - n
		for id := range p.parked {
			if excess == 0 {
				break
			}
			if _, ok := p.workers[id]; ok {
				delete(p.workers, id)
				excess--
			}
		}
		for id := range p.workers {
			if excess == 0 {
				break
			}
			delete(p.workers, id)
			excess--
		}
		p.cond.Broadcast()
	}
	p.publishLocked()
}

func (p *Pool) removeLocked(id string) {
	delete(p.tasks, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// dequeueLocked claims the next address, round robin over tasks starting
// after the last served one.
func (p *Pool) dequeueLocked() (string, string, bool) {
	n := len(p.order)
	start := 0
	if p.lastServed != "" {
		for i, id := range p.order {
			if id == p.lastServed {
				start = i + 1
				break
			}
		}
	}

	for k := 0; k < n; k++ {
		t := p.tasks[p.order[(start+k)%n]]
		if len(t.queued) == 0 {
			continue
		}
		addr := t.queued[0]
		t.queued = t.queued[1:]
		t.inProgress[addr] = struct{}{}
		p.lastServed = t.id
		return t.id, addr, true
	}

	p.lastServed = ""
	return "", "", false
}

func (p *Pool) member(id int) bool {
	_, ok := p.workers[id]
	return ok
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for {
		p.mu.Lock()
		var (
			taskID, addr string
			ok           bool
		)
		for {
			if !p.running || !p.member(id) {
				p.mu.Unlock()
				return
			}
			if taskID, addr, ok = p.dequeueLocked(); ok {
				break
			}
			p.parked[id] = struct{}{}
			p.publishLocked()
			p.cond.Wait()
			delete(p.parked, id)
		}
		timeout := p.timeout
		p.publishLocked()
		p.mu.Unlock()

		p.process(taskID, addr, timeout)
	}
}

func (p *Pool) process(taskID, addr string, timeout time.Duration) {
	if p.limiter != nil {
		if err := p.limiter.Wait(p.limiterCtx); err != nil {
			p.complete(taskID, addr, nil, false)
			return
		}
	}

	start := time.Now()
	device, ok, outcome := p.probeSafely(addr, timeout)
	p.recorder.ObserveProbe(outcome, time.Since(start))
	p.complete(taskID, addr, device, ok)
}

func (p *Pool) probeSafely(addr string, timeout time.Duration) (device *probe.Device, ok bool, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorScan("Probe panicked", addr, fmt.Errorf("%v", r))
			device, ok, outcome = nil, false, metrics.OutcomePanic
		}
	}()

	// Probes are bounded by their own timeout, not by pool shutdown.
	device, ok = p.prober.Probe(context.Background(), addr, timeout)
	if !ok {
		return nil, false, metrics.OutcomeUnrecognized
	}
	return device, true, metrics.OutcomeRecognized
}

// complete records the result of a probe. Results for deleted tasks are
// dropped.
func (p *Pool) complete(taskID, addr string, device *probe.Device, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, exists := p.tasks[taskID]
	if !exists {
		return
	}
	delete(t.inProgress, addr)

	if ok {
		d := probe.Device{Address: addr}
		if device != nil {
			d = *device
			if d.Address == "" {
				d.Address = addr
			}
		}
		t.recognized = append(t.recognized, d)
		p.logger.WithTaskID(taskID).InfoScan("Device recognized", addr, "model", d.Model)
	}

	if t.done() && t.completedAt.IsZero() {
		t.completedAt = time.Now()
		p.logger.WithTaskID(taskID).Info("Scan task completed",
			"total", t.total,
			"recognized", len(t.recognized),
			"duration", t.completedAt.Sub(t.createdAt))
	}
}

func (p *Pool) publishLocked() {
	p.recorder.SetWorkers(len(p.workers), len(p.parked))
	p.recorder.SetActiveTasks(len(p.tasks))
}
