package usage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "dealflow/config"
	"dealflow/logger"
)

// Record is one provider-call usage entry: the unit the billing and
// monitoring systems consume.
type Record struct {
	ID            string        `json:"id"`
	Provider      string        `json:"provider"`
	Endpoint      string        `json:"endpoint"`
	Params        string        `json:"params"`
	Latency       time.Duration `json:"latency"`
	Success       bool          `json:"success"`
	Cached        bool          `json:"cached"`
	EstimatedCost float64       `json:"estimated_cost"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Tracker consumes usage records from aggregation tasks, emits a structured
// log entry and a CloudWatch metric per record, and hands records to the S3
// archiver when archiving is enabled. A full channel drops the record rather
// than stalling an aggregation.
type Tracker struct {
	config   *appconfig.Config
	records  chan Record
	archiver *s3Archiver
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	recordsSeen    int64
	recordsDropped int64
}

func NewTracker(cfg *appconfig.Config) (*Tracker, error) {
	t := &Tracker{
		config:  cfg,
		records: make(chan Record, 256),
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}

	if cfg.Usage.Enabled {
		archiver, err := newS3Archiver(cfg)
		if err != nil {
			return nil, fmt.Errorf("create usage archiver: %w", err)
		}
		t.archiver = archiver
	}

	return t, nil
}

func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("usage tracker already running")
	}
	t.running = true
	t.ctx = ctx
	t.mu.Unlock()

	log := t.log.WithComponent("usage_tracker")
	log.Info("starting usage tracker")

	t.wg.Add(1)
	go t.worker()

	if t.archiver != nil {
		t.wg.Add(1)
		go t.flusher()
	}

	return nil
}

func (t *Tracker) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.log.WithComponent("usage_tracker").Info("stopping usage tracker")
	t.wg.Wait()

	if t.archiver != nil {
		t.archiver.flush(context.Background())
	}
	t.log.WithComponent("usage_tracker").Info("usage tracker stopped")
}

// Track enqueues one record. Never blocks the caller.
func (t *Tracker) Track(rec Record) {
	atomic.AddInt64(&t.recordsSeen, 1)
	select {
	case t.records <- rec:
	default:
		atomic.AddInt64(&t.recordsDropped, 1)
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()

	log := t.log.WithComponent("usage_tracker")

	for {
		select {
		case <-t.ctx.Done():
			t.drain()
			return
		case rec := <-t.records:
			t.process(rec, log)
		}
	}
}

// drain processes whatever is already queued so Stop does not lose records.
func (t *Tracker) drain() {
	log := t.log.WithComponent("usage_tracker")
	for {
		select {
		case rec := <-t.records:
			t.process(rec, log)
		default:
			return
		}
	}
}

func (t *Tracker) process(rec Record, log *logger.Entry) {
	log.WithFields(logger.Fields{
		"record_id":  rec.ID,
		"provider":   rec.Provider,
		"endpoint":   rec.Endpoint,
		"params":     rec.Params,
		"latency_ms": float64(rec.Latency.Nanoseconds()) / 1e6,
		"success":    rec.Success,
		"cached":     rec.Cached,
		"cost":       rec.EstimatedCost,
	}).Info("provider call")

	if t.config.Usage.CloudWatch {
		logger.PublishMetric(t.ctx, "ProviderCall", 1, map[string]string{
			"provider": rec.Provider,
			"cached":   fmt.Sprintf("%t", rec.Cached),
		})
		if rec.EstimatedCost > 0 {
			logger.PublishMetric(t.ctx, "ProviderCost", rec.EstimatedCost, map[string]string{
				"provider": rec.Provider,
			})
		}
	}

	if t.archiver != nil {
		t.archiver.add(rec)
	}
}

func (t *Tracker) flusher() {
	defer t.wg.Done()

	interval := t.config.Usage.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.archiver.flush(t.ctx)
		}
	}
}
