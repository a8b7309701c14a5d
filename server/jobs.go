package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"bmpow/config"
	"bmpow/pow"
)

// JobState describes where a job is in its lifecycle.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is one asynchronous proof-of-work search owned by the pool.
type Job struct {
	ID          string
	Target      uint64
	InitialHash []byte
	MaxNonce    uint64
	Workers     int

	State       JobState
	Nonce       uint64
	Hashes      uint64
	Status      int // pow status code, valid once finished
	Error       string
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	attempts *atomic.Uint64 // live hash counter while running
}

// JobView is the JSON-serializable snapshot of a job returned by the API and
// broadcast over the WebSocket feed.
type JobView struct {
	ID          string    `json:"id"`
	State       JobState  `json:"state"`
	Target      uint64    `json:"target"`
	MaxNonce    uint64    `json:"max_nonce"`
	Workers     int       `json:"workers"`
	Nonce       uint64    `json:"nonce,omitempty"`
	Hashes      uint64    `json:"hashes"`
	Status      int       `json:"status"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// PoolStats aggregates the pool's lifetime counters for the stats endpoint
// and the event log snapshot.
type PoolStats struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Queued        int     `json:"queued"`
	Running       int     `json:"running"`
	Finished      int     `json:"finished"`
	TotalJobs     uint64  `json:"total_jobs"`
	TotalHashes   uint64  `json:"total_hashes"`
	LiveHashes    uint64  `json:"live_hashes"` // attempts by currently running jobs
}

// jobNotifier receives completed-job snapshots; the WebSocket hub and the
// event log both implement it.
type jobNotifier interface {
	NotifyJob(JobView)
}

// JobPool accepts asynchronous searches, bounds how many run at once with a
// weighted semaphore, and retains finished jobs for a configurable window so
// clients can poll for results.
type JobPool struct {
	log       *slog.Logger
	notifiers []jobNotifier

	mu   sync.RWMutex
	cfg  config.PowConfig
	jobs map[string]*Job
	sem  *semaphore.Weighted

	startTime   time.Time
	totalJobs   atomic.Uint64
	totalHashes atomic.Uint64
}

// NewJobPool creates a job pool with the given limits. Notifiers are invoked
// once per job, after it reaches a terminal state.
func NewJobPool(cfg config.PowConfig, log *slog.Logger, notifiers ...jobNotifier) *JobPool {
	return &JobPool{
		log:       log,
		notifiers: notifiers,
		cfg:       cfg,
		jobs:      make(map[string]*Job),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		startTime: time.Now(),
	}
}

// UpdateConfig applies reloaded pow limits. The semaphore is not resized;
// a changed max_concurrent_jobs takes effect after restart.
func (p *JobPool) UpdateConfig(cfg config.PowConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.MaxConcurrentJobs = p.cfg.MaxConcurrentJobs
	p.cfg = cfg
}

// newJobID returns a 16-byte random hex identifier.
func newJobID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// resolveWorkers maps a requested worker count to an effective pool size,
// applying the configured default and ceiling.
func (p *JobPool) resolveWorkers(requested int) (int, error) {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	workers := requested
	if workers == 0 {
		workers = cfg.DefaultWorkers
	}
	if workers == 0 {
		workers = defaultWorkerCount()
		if workers > cfg.MaxWorkers {
			workers = cfg.MaxWorkers
		}
	}
	if workers < 1 || workers > cfg.MaxWorkers {
		return 0, fmt.Errorf("%w: workers %d not in [1, %d]", pow.ErrBadInput, requested, cfg.MaxWorkers)
	}
	return workers, nil
}

// resolveMaxNonce applies the configured nonce bound when the request leaves
// it at zero. A zero result keeps the engine default.
func (p *JobPool) resolveMaxNonce(requested uint64) uint64 {
	if requested != 0 {
		return requested
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MaxNonce
}

// Submit validates the request, registers a queued job, and starts it in the
// background. The search begins once the concurrency semaphore admits it.
func (p *JobPool) Submit(ctx context.Context, target uint64, initialHash []byte, workers int, maxNonce uint64) (JobView, error) {
	if len(initialHash) != pow.HashSize {
		return JobView{}, fmt.Errorf("%w: initial hash is %d bytes, want %d", pow.ErrBadInput, len(initialHash), pow.HashSize)
	}
	effectiveWorkers, err := p.resolveWorkers(workers)
	if err != nil {
		return JobView{}, err
	}

	id, err := newJobID()
	if err != nil {
		return JobView{}, fmt.Errorf("%w: %v", pow.ErrInternal, err)
	}

	hashCopy := make([]byte, len(initialHash))
	copy(hashCopy, initialHash)

	job := &Job{
		ID:          id,
		Target:      target,
		InitialHash: hashCopy,
		MaxNonce:    p.resolveMaxNonce(maxNonce),
		Workers:     effectiveWorkers,
		State:       JobQueued,
		SubmittedAt: time.Now(),
		attempts:    new(atomic.Uint64),
	}

	p.mu.Lock()
	p.jobs[id] = job
	p.mu.Unlock()
	p.totalJobs.Add(1)

	p.log.Info("job submitted",
		"job", id,
		"workers", effectiveWorkers,
		"target", target)

	go p.run(ctx, job)

	return p.snapshot(job), nil
}

// run waits for a semaphore slot, performs the search, and records the
// terminal state. Worker goroutines never outlive the search call.
func (p *JobPool) run(ctx context.Context, job *Job) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.finish(job, pow.Result{}, fmt.Errorf("%w: %v", pow.ErrInternal, err))
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	job.State = JobRunning
	job.StartedAt = time.Now()
	p.mu.Unlock()

	res, err := pow.SearchDetailed(job.Workers, job.Target, job.InitialHash, job.MaxNonce, job.attempts)
	p.finish(job, res, err)
}

func (p *JobPool) finish(job *Job, res pow.Result, err error) {
	p.mu.Lock()
	job.FinishedAt = time.Now()
	job.Hashes = res.Hashes
	job.Status = pow.StatusOf(err)
	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
	} else {
		job.State = JobDone
		job.Nonce = res.Nonce
	}
	view := p.snapshotLocked(job)
	p.mu.Unlock()

	p.totalHashes.Add(res.Hashes)

	if err != nil {
		p.log.Warn("job failed",
			"job", job.ID,
			"status", job.Status,
			"error", err)
	} else {
		p.log.Info("job finished",
			"job", job.ID,
			"nonce", res.Nonce,
			"hashes", res.Hashes,
			"elapsed", res.Elapsed)
	}

	for _, n := range p.notifiers {
		n.NotifyJob(view)
	}
}

// Get returns a snapshot of the job with the given id.
func (p *JobPool) Get(id string) (JobView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	job, ok := p.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return p.snapshotLocked(job), true
}

func (p *JobPool) snapshot(job *Job) JobView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked(job)
}

func (p *JobPool) snapshotLocked(job *Job) JobView {
	view := JobView{
		ID:          job.ID,
		State:       job.State,
		Target:      job.Target,
		MaxNonce:    job.MaxNonce,
		Workers:     job.Workers,
		Nonce:       job.Nonce,
		Hashes:      job.Hashes,
		Status:      job.Status,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
	if job.State == JobRunning {
		view.Hashes = job.attempts.Load()
	}
	return view
}

// Stats aggregates pool counters.
func (p *JobPool) Stats() PoolStats {
	p.mu.RLock()
	var queued, running, finished int
	var live uint64
	for _, job := range p.jobs {
		switch job.State {
		case JobQueued:
			queued++
		case JobRunning:
			running++
			live += job.attempts.Load()
		default:
			finished++
		}
	}
	p.mu.RUnlock()

	return PoolStats{
		UptimeSeconds: time.Since(p.startTime).Seconds(),
		Queued:        queued,
		Running:       running,
		Finished:      finished,
		TotalJobs:     p.totalJobs.Load(),
		TotalHashes:   p.totalHashes.Load(),
		LiveHashes:    live,
	}
}

// AddHashes folds hash counts from synchronous searches into the lifetime
// total so the stats endpoint covers both entry points.
func (p *JobPool) AddHashes(n uint64) {
	p.totalHashes.Add(n)
}

// Janitor periodically evicts finished jobs older than the retention window.
// It runs until the context is cancelled.
func (p *JobPool) Janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictExpired()
		}
	}
}

func (p *JobPool) evictExpired() {
	p.mu.Lock()
	retention := p.cfg.JobRetention
	cutoff := time.Now().Add(-retention)
	var evicted int
	for id, job := range p.jobs {
		if (job.State == JobDone || job.State == JobFailed) && job.FinishedAt.Before(cutoff) {
			delete(p.jobs, id)
			evicted++
		}
	}
	p.mu.Unlock()

	if evicted > 0 {
		p.log.Debug("evicted expired jobs", "count", evicted)
	}
}
