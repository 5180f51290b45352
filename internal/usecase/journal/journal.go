package journal

import (
	"context"
	"time"

	"github.com/brasaex/exchange/pkg/errors"
	"github.com/brasaex/exchange/pkg/logger"
)

// Store is the durable sink for flushed batches. FlushBatch must persist the
// whole batch in a single transaction, in fixed order: insert orders, insert
// trades, update orders, apply balance deltas.
type Store interface {
	FlushBatch(ctx context.Context, batch *Batch) error
}

// CommitHook runs after a batch's transaction commits. Hooks are best-effort:
// they must not block the flusher for long and their failures are their own.
type CommitHook func(ctx context.Context, batch *Batch)

// Config holds the persistence pipeline tuning knobs.
type Config struct {
	// QueueSize bounds the in-process event queue. Enqueue blocks when the
	// queue is full, back-pressuring the writer.
	QueueSize int `env:"QUEUE_SIZE" envDefault:"65536"`

	// FlushInterval is how often the flusher wakes with no threshold kick.
	FlushInterval time.Duration `env:"INTERVAL" envDefault:"30ms"`

	// BatchThreshold wakes the flusher early once this many events are queued.
	BatchThreshold int `env:"BATCH_THRESHOLD" envDefault:"512"`

	// MaxBatch caps how many events a single flush drains.
	MaxBatch int `env:"MAX_BATCH" envDefault:"8192"`
}

// Journal is the asynchronous persistence pipeline: a bounded FIFO queue of
// event snapshots drained by a background flusher that coalesces each batch
// into one durable transaction. Events survive in the pending buffer across
// failed flushes; nothing is dropped until its transaction commits.
type Journal struct {
	cfg    Config
	store  Store
	logger logger.Interface
	hooks  []CommitHook

	events chan Event
	kick   chan struct{}

	// pending holds events drained but not yet committed, so an aborted
	// transaction retries the same batch on the next tick.
	pending []Event

	done chan struct{}
}

// New creates a journal writing to store. Hooks run after each commit, in
// order, with the committed batch.
func New(cfg Config, store Store, log logger.Interface, hooks ...CommitHook) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 65536
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Millisecond
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 512
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 8192
	}

	return &Journal{
		cfg:    cfg,
		store:  store,
		logger: log,
		hooks:  hooks,
		events: make(chan Event, cfg.QueueSize),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends an event snapshot to the queue, blocking if the queue is
// full. FIFO order is preserved, which the flusher relies on: new-order
// events for an id always precede its update events.
func (j *Journal) Enqueue(ev Event) {
	j.events <- ev

	if len(j.events) >= j.cfg.BatchThreshold {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// QueueDepth returns the number of events waiting in the queue.
func (j *Journal) QueueDepth() int {
	return len(j.events)
}

// Run drains and flushes until ctx is cancelled, then keeps flushing until
// the queue is empty so shutdown loses nothing that was enqueued, unless a
// final transaction fails; that batch is then dropped. Call it from a dedicated
// goroutine; Done is closed when it returns.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush whatever is left. The parent context
			// is gone, so give the final transaction its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				j.flush(flushCtx)
				// Each flush drains at most MaxBatch events; stop once the
				// queue is empty or a failed flush left its batch pending.
				if len(j.events) == 0 || len(j.pending) > 0 {
					break
				}
			}
			cancel()
			return
		case <-ticker.C:
			j.flush(ctx)
		case <-j.kick:
			j.flush(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

// flush drains up to MaxBatch events into the pending buffer and attempts to
// commit everything pending in one transaction.
func (j *Journal) flush(ctx context.Context) {
drain:
	for len(j.pending) < j.cfg.MaxBatch {
		select {
		case ev := <-j.events:
			j.pending = append(j.pending, ev)
		default:
			break drain
		}
	}

	if len(j.pending) == 0 {
		return
	}

	batch := buildBatch(j.pending)
	if err := j.store.FlushBatch(ctx, batch); err != nil {
		// Memory remains authoritative; the batch is retried next tick.
		j.logger.Error(errors.NewTracer(errors.FlushBatchError.String()).Wrap(err),
			logger.Field{Key: "pending_events", Value: len(j.pending)},
		)
		return
	}

	j.pending = j.pending[:0]

	for _, hook := range j.hooks {
		hook(ctx, batch)
	}
}
