package detail

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/listing"
	"github.com/eldlit/auto-ria-downloader/internal/metrics"
)

// progressEvery controls how often the accepted-record milestone is logged.
const progressEvery = 100

// FlushFunc delivers one batch to the sink in arrival order.
type FlushFunc func(batch []listing.Result) error

// Collector owns the run-wide dedupe set and the pending output batch. Both
// live behind one lock so a record is deduplicated, appended, and flushed as
// a single atomic step. The raw set and buffer are never exposed.
type Collector struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	batch     []listing.Result
	batchSize int
	flush     FlushFunc
	accepted  int
	logger    *zap.Logger
}

// NewCollector builds a collector flushing through fn whenever the batch
// reaches size.
func NewCollector(size int, fn FlushFunc, logger *zap.Logger) *Collector {
	return &Collector{
		seen:      make(map[string]struct{}),
		batch:     make([]listing.Result, 0, size),
		batchSize: size,
		flush:     fn,
		logger:    logger,
	}
}

// Accept applies the phone dedup rule and, when the record survives it,
// appends the record to the batch, flushing if the threshold is reached. The
// record is dropped only when every one of its normalized phones was already
// claimed by an earlier record. Returns whether the record was accepted; the
// error is a flush failure only.
func (c *Collector) Accept(result listing.Result) (bool, error) {
	phones := result.NormalizedPhones()
	if len(phones) == 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	allSeen := true
	for _, p := range phones {
		if _, ok := c.seen[p]; !ok {
			allSeen = false
			break
		}
	}
	if allSeen {
		c.logger.Debug("duplicate phones; dropping record",
			zap.String("url", result.URL), zap.Strings("phones", phones))
		return false, nil
	}
	for _, p := range phones {
		c.seen[p] = struct{}{}
	}

	c.batch = append(c.batch, result)
	c.accepted++
	if c.accepted%progressEvery == 0 {
		c.logger.Info("scrape progress", zap.Int("accepted", c.accepted))
	}
	if len(c.batch) >= c.batchSize {
		if err := c.flushLocked(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// FinalFlush writes out whatever partial batch remains.
func (c *Collector) FinalFlush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Accepted returns how many records passed the dedup gate so far.
func (c *Collector) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

func (c *Collector) flushLocked() error {
	if len(c.batch) == 0 {
		return nil
	}
	out := c.batch
	c.batch = make([]listing.Result, 0, c.batchSize)
	if err := c.flush(out); err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(out), err)
	}
	metrics.BatchFlush()
	return nil
}
