package printer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Health of the printer link as seen by producers
type LinkHealth int

const (
	Healthy LinkHealth = iota
	Faulted
	Reconnecting
)

func (h LinkHealth) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Faulted:
		return "faulted"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("LinkHealth(%d)", int(h))
	}
}

type linkState int32

const (
	linkUninitialised linkState = iota
	linkHealthy
	linkFaulted
)

type Outcome int

const (
	Accepted Outcome = iota
	Rejected
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

type Result struct {
	JobID   uuid.UUID
	Outcome Outcome
	Err     error
}

func (r Result) Accepted() bool {
	return r.Outcome == Accepted
}

// A single print request. Exactly one of Text and ImagePath is set.
type Job struct {
	ID          uuid.UUID
	Text        string
	ImagePath   string
	SubmittedAt time.Time
	// Receives the result once it is known. Must be buffered if set.
	Done chan Result
}

func NewTextJob(text string) *Job {
	return &Job{ID: uuid.New(), Text: text, SubmittedAt: time.Now(), Done: make(chan Result, 1)}
}

func NewImageJob(path string) *Job {
	return &Job{ID: uuid.New(), ImagePath: path, SubmittedAt: time.Now(), Done: make(chan Result, 1)}
}

func (j *Job) Kind() string {
	if j.ImagePath != "" {
		return "image"
	}
	return "text"
}

// The parts of SessionManager the queue uses
type SessionOpener interface {
	Open(ctx context.Context) (*Session, error)
	Write(ctx context.Context, s *Session, f Frame) error
	IsHealthy(ctx context.Context, s *Session) bool
	Close(s *Session)
}

type JobBuilder interface {
	Build(j *Job) ([]Frame, error)
}

// Receives every job once its result is known
type Recorder interface {
	Record(ctx context.Context, j *Job, r Result) error
}

type QueueConfig struct {
	Capacity       int
	JobTimeout     time.Duration
	HealthInterval time.Duration
	Recorder       Recorder
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:       16,
		JobTimeout:     30 * time.Second,
		HealthInterval: 10 * time.Second,
	}
}

// Serialises jobs onto the printer. Any number of goroutines may Submit; Run
// is the only goroutine that touches the session.
type Queue struct {
	sessions SessionOpener
	builder  JobBuilder
	cfg      QueueConfig
	logger   *slog.Logger

	jobs        chan *Job
	reconnected chan *Session
	session     *Session

	state        atomic.Int32
	reconnecting atomic.Bool

	// guards closed against sends on jobs
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// lifetime of reconnect attempts
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(sessions SessionOpener, builder JobBuilder, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sessions:    sessions,
		builder:     builder,
		cfg:         cfg,
		logger:      logger.With("src", "queue"),
		jobs:        make(chan *Job, cfg.Capacity),
		reconnected: make(chan *Session, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (q *Queue) Health() LinkHealth {
	if q.reconnecting.Load() {
		return Reconnecting
	}
	switch linkState(q.state.Load()) {
	case linkHealthy:
		return Healthy
	case linkUninitialised:
		return Reconnecting
	default:
		return Faulted
	}
}

// Number of jobs waiting to be processed
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Enqueues the job, or rejects it straight away if it can't be printed soon.
// A rejected job has its result delivered on Done before this returns.
func (q *Queue) Submit(j *Job) bool {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	state := linkState(q.state.Load())
	switch {
	case q.closed:
		q.reject(j, ErrQueueClosed)
		return false
	case q.reconnecting.Load() && state != linkUninitialised:
		q.reject(j, ErrReconnectPending)
		return false
	case state == linkFaulted:
		q.reject(j, ErrLinkFaulted)
		q.TriggerReconnect()
		return false
	}

	select {
	case q.jobs <- j:
		q.logger.Debug("Job queued", "job", j.ID, "kind", j.Kind(), "depth", len(q.jobs))
		return true
	default:
		q.reject(j, ErrQueueFull)
		return false
	}
}

// Submits the job and blocks until its result is known or ctx is done. An
// unbuffered Done is replaced, since the result is delivered without blocking.
func (q *Queue) SubmitAndWait(ctx context.Context, j *Job) (Result, error) {
	if cap(j.Done) == 0 {
		j.Done = make(chan Result, 1)
	}
	q.Submit(j)

	select {
	case r := <-j.Done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Starts opening a new session in the background unless an attempt is
// already in flight. Returns whether this call started one.
func (q *Queue) TriggerReconnect() bool {
	if !q.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	if q.ctx.Err() != nil {
		q.reconnecting.Store(false)
		return false
	}

	q.logger.Info("Reconnecting to printer")
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		s, err := q.sessions.Open(q.ctx)
		if err != nil {
			q.logger.Error("Couldn't reconnect to printer", "err", err)
			q.reconnecting.Store(false)
			return
		}

		// the consumer installs it and releases the gate
		select {
		case q.reconnected <- s:
		case <-q.ctx.Done():
			q.sessions.Close(s)
			q.reconnecting.Store(false)
		}
	}()
	return true
}

// Stops accepting jobs. Run rejects whatever is still queued and returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})
}

// Consumes jobs until ctx is done or the queue is closed
func (q *Queue) Run(ctx context.Context) error {
	defer q.shutdown()

	q.logger.Info("Opening printer session")
	if s, err := q.sessions.Open(ctx); err != nil {
		q.logger.Error("Couldn't open printer session", "err", err)
		q.state.Store(int32(linkFaulted))
	} else {
		q.install(s)
	}

	var ticks <-chan time.Time
	if q.cfg.HealthInterval > 0 {
		ticker := time.NewTicker(q.cfg.HealthInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-q.reconnected:
			q.install(s)
		case <-ticks:
			q.checkHealth(ctx)
		case j, ok := <-q.jobs:
			if !ok {
				return nil
			}
			q.process(ctx, j)
		}
	}
}

func (q *Queue) install(s *Session) {
	if q.session != nil {
		q.sessions.Close(q.session)
	}
	q.session = s
	q.state.Store(int32(linkHealthy))
	q.reconnecting.Store(false)
	q.logger.Info("Printer link healthy", "session", s.ID)
}

// Marks the link faulted and tears the session down, so the printer is
// advertising again by the time a reconnect scans for it
func (q *Queue) fault(reason string, err error) {
	q.state.Store(int32(linkFaulted))
	q.logger.Error("Printer link faulted", "reason", reason, "err", err)
	if q.session != nil {
		q.sessions.Close(q.session)
		q.session = nil
	}
}

func (q *Queue) checkHealth(ctx context.Context) {
	switch linkState(q.state.Load()) {
	case linkHealthy:
		if !q.sessions.IsHealthy(ctx, q.session) {
			q.fault("health check", nil)
			q.TriggerReconnect()
		}
	case linkFaulted:
		q.TriggerReconnect()
	}
}

func (q *Queue) process(ctx context.Context, j *Job) {
	// prefer a session that is already waiting over rejecting the job
	select {
	case s := <-q.reconnected:
		q.install(s)
	default:
	}

	logger := q.logger.With("job", j.ID)

	frames, err := q.builder.Build(j)
	if err != nil {
		logger.Error("Couldn't build job", "err", err)
		q.reject(j, err)
		return
	}

	if linkState(q.state.Load()) != linkHealthy {
		q.reject(j, ErrLinkFaulted)
		q.TriggerReconnect()
		return
	}

	if !q.sessions.IsHealthy(ctx, q.session) {
		q.fault("health probe", nil)
		q.reject(j, fmt.Errorf("%w: health probe failed", ErrLinkFaulted))
		return
	}

	jobCtx := ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	logger.Info("Printing job", "kind", j.Kind(), "frames", len(frames))
	for i, f := range frames {
		if err := q.sessions.Write(jobCtx, q.session, f); err != nil {
			q.fault(fmt.Sprintf("frame %d of %d", i+1, len(frames)), err)
			q.reject(j, err)
			return
		}
	}

	logger.Info("Job printed", "elapsed", time.Since(j.SubmittedAt))
	q.finish(j, Result{JobID: j.ID, Outcome: Accepted})
}

func (q *Queue) reject(j *Job, err error) {
	q.logger.Warn("Job rejected", "job", j.ID, "err", err)
	q.finish(j, Result{JobID: j.ID, Outcome: Rejected, Err: err})
}

func (q *Queue) finish(j *Job, r Result) {
	if q.cfg.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.cfg.Recorder.Record(ctx, j, r); err != nil {
			q.logger.Warn("Couldn't record job", "job", j.ID, "err", err)
		}
		cancel()
	}

	if j.Done == nil {
		return
	}
	select {
	case j.Done <- r:
	default:
		q.logger.Warn("Dropped job result, nobody is listening", "job", j.ID)
	}
}

func (q *Queue) shutdown() {
	q.Close()
	q.cancel()

	for j := range q.jobs {
		q.reject(j, ErrQueueClosed)
	}

	q.wg.Wait()
	select {
	case s := <-q.reconnected:
		q.sessions.Close(s)
	default:
	}
	q.reconnecting.Store(false)

	if q.session != nil {
		q.sessions.Close(q.session)
		q.session = nil
	}
	q.logger.Info("Print queue stopped")
}
