package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Publisher ships a batch of aggregated entries; the Kafka producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush at least this often
	CountThreshold int           // flush once this many distinct entries are pending
	Topic          string
	Source         string // stamped on every entry, e.g. the environment
	Publisher      Publisher
	PublishTimeout time.Duration
}

type AggregatedLogEntry struct {
	Source    string                 `json:"source,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// entryKey identifies repeats of one log line. fields is the JSON encoding
// of the field map, whose keys marshal sorted.
type entryKey struct {
	level, message, caller, fields string
}

// LogCollector deduplicates warn and error logs by content and publishes them
// in batches, every TimeInterval or once CountThreshold distinct entries are
// pending. Batches are sent by a single goroutine; while it is busy up to
// four batches queue and further ones are dropped.
type LogCollector struct {
	config  *CollectionConfig
	mu      sync.Mutex
	pending map[entryKey]*AggregatedLogEntry
	stopped bool // batches is closed; entries added later are discarded
	batches chan []AggregatedLogEntry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}

	c := &LogCollector{
		config:  config,
		pending: make(map[entryKey]*AggregatedLogEntry),
		batches: make(chan []AggregatedLogEntry, 4),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.tick()
	go c.send()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	encoded, _ := json.Marshal(fields)
	key := entryKey{level: level, message: message, caller: caller, fields: string(encoded)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedLogEntry{
			Source:    c.config.Source,
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.pending) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// Pending returns the number of distinct entries waiting for the next flush.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	t := time.NewTicker(c.config.TimeInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.done:
			c.mu.Lock()
			c.flushLocked()
			c.stopped = true
			close(c.batches)
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// flushLocked hands pending entries, oldest first, to the sender.
func (c *LogCollector) flushLocked() {
	if len(c.pending) == 0 || c.stopped {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	c.pending = make(map[entryKey]*AggregatedLogEntry)

	if c.config.Publisher == nil {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })

	select {
	case c.batches <- batch:
	default:
		// the logger cannot log its own shipping failures
		fmt.Fprintf(os.Stderr, "log collector: dropped %d entries, sender busy\n", len(batch))
	}
}

func (c *LogCollector) send() {
	defer c.wg.Done()
	for batch := range c.batches {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.PublishTimeout)
		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish to %s: %v\n", c.config.Topic, err)
		}
		cancel()
	}
}

// Close flushes pending entries and waits until every queued batch is sent.
func (c *LogCollector) Close() {
	c.closed.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}
