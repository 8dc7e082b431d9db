package collab

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

// KafkaDispatcher publishes op events through bounded queues, one per worker.
// Events are routed to a queue by document id, so one document's events are
// sent in the order they were enqueued. Enqueue waits at most until the
// caller's ctx is done, so a stalled broker costs the editing path a bounded
// delay and then the event is dropped.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	sem      *SemaphoreControl
	opt      KafkaDispatcherOptions

	mu     sync.RWMutex
	closed bool
	queues []chan DocOpEvent
	wg     sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64

	logger zerolog.Logger
}

type KafkaDispatcherOptions struct {
	// QueueSize is the total capacity, split evenly across workers.
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DispatcherStats counts events by outcome since start.
type DispatcherStats struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt KafkaDispatcherOptions, logger zerolog.Logger) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		sem:      sem,
		opt:      opt,
		queues:   make([]chan DocOpEvent, opt.Workers),
		logger:   logger.With().Str("component", "kafka_dispatcher").Logger(),
	}
	size := max(1, opt.QueueSize/opt.Workers)
	d.wg.Add(opt.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan DocOpEvent, size)
		go d.run(i)
	}
	return d
}

func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt DocOpEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queueFor(evt.DocID) <- evt:
		return nil
	case <-ctx.Done():
		d.dropped.Add(1)
		return ctx.Err()
	}
}

// Close stops intake and blocks until queued events are delivered or given up.
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) Stats() DispatcherStats {
	queued := 0
	for _, q := range d.queues {
		queued += len(q)
	}
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Dropped: d.dropped.Load(),
		Queued:  queued,
	}
}

func (d *KafkaDispatcher) queueFor(docID string) chan DocOpEvent {
	if len(d.queues) == 1 {
		return d.queues[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

func (d *KafkaDispatcher) run(worker int) {
	defer d.wg.Done()
	for evt := range d.queues[worker] {
		if err := d.deliver(evt); err != nil {
			d.dropped.Add(1)
			d.logger.Warn().Err(err).
				Str("doc", evt.DocID).
				Str("op", evt.OperationID).
				Int("rev", evt.Revision).
				Int("worker", worker).
				Msg("giving up on op event")
			continue
		}
		d.sent.Add(1)
	}
}

// deliver makes up to MaxRetry+1 attempts with capped exponential backoff.
func (d *KafkaDispatcher) deliver(evt DocOpEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err = d.publish(evt.DocID, payload)
		if err == nil || attempt >= d.opt.MaxRetry {
			return err
		}
		time.Sleep(d.backoff(attempt))
	}
}

func (d *KafkaDispatcher) backoff(attempt int) time.Duration {
	b := d.opt.BaseBackoff << attempt
	if d.opt.MaxBackoff > 0 && b > d.opt.MaxBackoff {
		return d.opt.MaxBackoff
	}
	return b
}

func (d *KafkaDispatcher) publish(key string, payload []byte) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	if d.sem != nil {
		if err := d.sem.Acquire(context.Background()); err != nil {
			return err
		}
		defer func() { _ = d.sem.Release() }()
	}
	_, _, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}
