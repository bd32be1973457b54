// Package security records authentication outcomes and raises the
// manual-review flag for accounts with repeated failures.
package security

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/geo"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	"github.com/Kharon-pay-mini/user-management-server/pkg/logger"
)

// Outcome is the result of a sign-in attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one authentication outcome to record.
type Event struct {
	UserID    string
	IPAddress string
	Outcome   Outcome
	Reason    string
}

// Locator resolves an IP, degrading to unknown. *geo.Enricher satisfies it.
type Locator interface {
	Resolve(ctx context.Context, ip string) geo.Location
}

// FlagPublisher announces flagged entries. *event.Producer satisfies it.
type FlagPublisher interface {
	PublishSecurityFlagged(ctx context.Context, entry *domain.SecurityLog, failedAttempts int64) error
}

// Config sizes the worker pool and its queue.
type Config struct {
	Workers   int
	QueueSize int
}

type job struct {
	ctx context.Context
	ev  Event
}

// Recorder persists security events on a fixed pool of workers fed by a
// bounded queue. Record never blocks: when the queue is full the event is
// dropped and counted.
type Recorder struct {
	logs    repository.SecurityLogRepository
	locator Locator
	flags   FlagPublisher
	logger  *slog.Logger

	queue     chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRecorder starts cfg.Workers workers. flags may be nil.
func NewRecorder(cfg Config, logs repository.SecurityLogRepository, locator Locator, flags FlagPublisher, logger *slog.Logger) *Recorder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	r := &Recorder{
		logs:    logs,
		locator: locator,
		flags:   flags,
		logger:  logger,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.run()
	}

	return r
}

// Record enqueues ev. The request's values (correlation id, trace) are
// kept but its cancellation is not, so work continues after the response.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.closed.Load() {
		return
	}

	j := job{ctx: context.WithoutCancel(ctx), ev: ev}
	select {
	case r.queue <- j:
		queueDepth.Set(float64(len(r.queue)))
	case <-r.done:
	default:
		r.dropped.Add(1)
		eventsDropped.Inc()
		r.logger.WarnContext(ctx, "security event dropped, queue full",
			slog.String("user_id", ev.UserID),
			slog.String("outcome", string(ev.Outcome)),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits until the queue is drained or
// ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case j := <-r.queue:
			r.handle(j)
		case <-r.done:
			for {
				select {
				case j := <-r.queue:
					r.handle(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(j job) {
	queueDepth.Set(float64(len(r.queue)))
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(j.ctx, "security event handler panicked", slog.Any("panic", rec))
		}
	}()
	r.process(j.ctx, j.ev)
}

func (r *Recorder) process(ctx context.Context, ev Event) {
	log := logger.WithContext(ctx, r.logger).With(slog.String("user_id", ev.UserID), slog.String("outcome", string(ev.Outcome)))

	ip := ev.IPAddress
	if ip == "" {
		ip = domain.Unknown
	}
	loc := r.locator.Resolve(ctx, ip)

	entry := &domain.SecurityLog{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		IPAddress: ip,
		City:      loc.City,
		Country:   loc.Country,
	}

	var prior int64
	if ev.Outcome == OutcomeFailure {
		entry.FailedLoginAttempts = 1

		sum, err := r.logs.SumFailedAttempts(ctx, ev.UserID)
		if err != nil {
			log.WarnContext(ctx, "failed to read prior failures, recording unflagged",
				slog.String("error", err.Error()),
			)
		} else {
			prior = sum
			entry.FlaggedForReview = domain.ShouldFlag(sum)
		}
	}

	if err := r.logs.Create(ctx, entry); err != nil {
		eventsFailed.Inc()
		log.ErrorContext(ctx, "failed to write security log", slog.String("error", err.Error()))
		return
	}
	eventsTotal.WithLabelValues(string(ev.Outcome)).Inc()

	if !entry.FlaggedForReview {
		return
	}

	eventsFlagged.Inc()
	log.WarnContext(ctx, "account flagged for review",
		slog.String("log_id", entry.ID),
		slog.Int64("failed_attempts", prior+1),
		slog.String("reason", ev.Reason),
	)

	if r.flags == nil {
		return
	}
	if err := r.flags.PublishSecurityFlagged(ctx, entry, prior+1); err != nil {
		log.ErrorContext(ctx, "failed to publish flagged event", slog.String("error", err.Error()))
	}
}
