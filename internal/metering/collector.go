package metering

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter persists buffered events. Store and SQLiteStore implement it.
type BatchInserter interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// Collector buffers events in memory and writes them in batches, either when
// the buffer fills or on a timer. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a collector that flushes every batchSize events or
// every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		store:         store,
		buffer:        make([]Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Start runs the flush timer until Stop is called or ctx is cancelled, then
// flushes whatever is left.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record buffers ev, flushing inline once the batch is full.
func (c *Collector) Record(ev Event) {
	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		c.flush()
	}
}

// flush logs insert failures instead of returning them; callers on the
// request path must not block on the database.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Event, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.BatchInsert(ctx, batch); err != nil {
		slog.Error("failed to flush usage events", "count", len(batch), "error", err)
	}
}

// Stop ends Start's loop, which performs the final flush. Safe to call twice.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
