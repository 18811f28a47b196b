package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tablepos/internal/config"
	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// Relay доставляет события из outbox во все sink'и.
// Строка помечается sent только после успеха во всех получателях.
type Relay struct {
	repo  repository.OutboxRepository
	sinks []Sink
	cfg   config.NotifyConfig
	loc   *time.Location

	pool    *ants.Pool
	sched   *cron.Cron
	trigger chan struct{}
	flushMu sync.Mutex
}

func NewRelay(repo repository.OutboxRepository, cfg config.NotifyConfig, loc *time.Location, sinks ...Sink) (*Relay, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Relay{
		repo:    repo,
		sinks:   sinks,
		cfg:     cfg,
		loc:     loc,
		pool:    pool,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Notify будит relay; вызывается после коммита, не блокирует
func (r *Relay) Notify() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run обрабатывает outbox до отмены ctx
func (r *Relay) Run(ctx context.Context) error {
	r.sched = cron.New(cron.WithLocation(r.loc))
	if _, err := r.sched.AddFunc("@every "+r.cfg.FlushInterval.String(), r.Notify); err != nil {
		return err
	}
	if _, err := r.sched.AddFunc("@hourly", func() {
		if _, err := r.Purge(ctx); err != nil {
			zap.L().Error("outbox purge error", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	r.sched.Start()
	defer r.sched.Stop()

	r.Notify()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				zap.L().Error("outbox flush error", zap.Error(err))
			}
			if n == r.cfg.BatchSize {
				r.Notify()
			}
		}
	}
}

// Flush доставляет одну пачку pending событий, возвращает размер пачки
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	events, err := r.repo.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	errs := make([]error, len(events))
	var wg sync.WaitGroup
	for i := range events {
		i := i
		msg := fromOutbox(events[i])
		wg.Add(1)
		task := func() {
			defer wg.Done()
			errs[i] = r.deliver(ctx, msg)
		}
		if err := r.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = errors.Wrap(err, "submit")
		}
	}
	wg.Wait()

	for i, ev := range events {
		if errs[i] == nil {
			if err := r.repo.MarkSent(ctx, ev.ID); err != nil {
				return len(events), err
			}
			continue
		}
		zap.L().Warn("event delivery failed",
			zap.Int64("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Int("attempt", ev.Attempts+1),
			zap.Error(errs[i]),
		)
		if err := r.repo.MarkRetry(ctx, ev.ID, domain.TruncateError(errs[i].Error()), r.cfg.MaxAttempts); err != nil {
			return len(events), err
		}
	}
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, msg Message) error {
	var failed []string
	for _, s := range r.sinks {
		if err := s.Deliver(ctx, msg); err != nil {
			failed = append(failed, s.Name()+": "+err.Error())
		}
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "; "))
	}
	return nil
}

// Purge удаляет доставленные события старше срока хранения
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	hours := r.cfg.RetentionHours
	if hours <= 0 {
		hours = 24
	}
	return r.purgeBefore(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
}

func (r *Relay) purgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.repo.PurgeSent(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("outbox purged", zap.Int64("rows", n))
	}
	return n, nil
}

func (r *Relay) Close() {
	r.pool.Release()
}
