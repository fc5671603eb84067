package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"chat-core/internal/delivery"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/repositories"
)

// Store is the slice of the message repository the dispatcher needs.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time) (models.Message, error)
	MarkCancelled(ctx context.Context, messageID int) error
}

// Deliverer fans a claimed message out. An error means the message could
// not be delivered and must be cancelled, never retried.
type Deliverer interface {
	DispatchClaimed(ctx context.Context, msg models.Message) error
}

// Dispatcher polls for due scheduled messages and pushes them through the
// shared delivery path. Claims are atomic in the store, so any number of
// instances can run; the in-flight guard only stops one instance from
// stacking its own ticks when a batch runs long.
type Dispatcher struct {
	store     Store
	deliverer Deliverer
	tick      time.Duration
	batchSize int
	logger    zerolog.Logger

	cron     *cron.Cron
	inFlight sync.Mutex
	now      func() time.Time
}

func NewDispatcher(store Store, deliverer Deliverer, tick time.Duration, batchSize int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		tick:      tick,
		batchSize: batchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins ticking in the background.
func (d *Dispatcher) Start() error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(fmt.Sprintf("@every %s", d.tick), func() {
		d.Tick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("registering dispatch tick: %w", err)
	}
	d.cron.Start()
	d.logger.Info().Dur("tick", d.tick).Int("batch_size", d.batchSize).Msg("dispatcher started")
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
}

// Tick claims and dispatches due messages one at a time, up to the batch
// ceiling. A tick that finds the previous one still running yields instead
// of piling up.
func (d *Dispatcher) Tick(ctx context.Context) {
	if !d.inFlight.TryLock() {
		observability.IncDispatcherClaim("skipped")
		return
	}
	defer d.inFlight.Unlock()

	start := time.Now()
	defer func() { observability.ObserveDispatcherTick(time.Since(start)) }()

	for i := 0; i < d.batchSize; i++ {
		msg, err := d.store.ClaimDue(ctx, d.now())
		if errors.Is(err, repositories.ErrNoneDue) {
			return
		}
		if err != nil {
			observability.IncDispatcherClaim("error")
			d.logger.Error().Err(err).Msg("claiming due message failed")
			return
		}
		d.dispatchOne(ctx, msg)
	}
}

// dispatchOne delivers a single claimed message. Failures, including
// panics, cancel the message: a claimed row must always reach a terminal
// or delivered state so it cannot be claimed again.
func (d *Dispatcher) dispatchOne(ctx context.Context, msg models.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Int("message_id", msg.ID).Msg("dispatch panicked")
			d.cancel(ctx, msg.ID)
			observability.IncDispatcherClaim("failed")
		}
	}()

	err := d.deliverer.DispatchClaimed(ctx, msg)
	switch {
	case err == nil:
		observability.IncDispatcherClaim("dispatched")
	case errors.Is(err, delivery.ErrBlocked):
		d.logger.Info().Int("message_id", msg.ID).Msg("recipient blocked since scheduling, cancelling")
		d.cancel(ctx, msg.ID)
		observability.IncDispatcherClaim("blocked")
	default:
		d.logger.Error().Err(err).Int("message_id", msg.ID).Msg("dispatch failed, cancelling")
		d.cancel(ctx, msg.ID)
		observability.IncDispatcherClaim("failed")
	}
}

func (d *Dispatcher) cancel(ctx context.Context, messageID int) {
	if err := d.store.MarkCancelled(ctx, messageID); err != nil {
		d.logger.Error().Err(err).Int("message_id", messageID).Msg("cancelling message failed")
	}
}
