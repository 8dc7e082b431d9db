package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestKafkaDispatcher_SendsKeyedByDocument(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if len(val) == 0 {
			return errors.New("empty payload")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "doc-ops", NewSemaphoreControl(2), KafkaDispatcherOptions{QueueSize: 4}, zerolog.Nop())
	if err := d.Enqueue(context.Background(), DocOpEvent{EventType: EventOpApplied, DocID: "d1", Revision: 2}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Close()

	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}
}

func TestKafkaDispatcher_RetriesThenSucceeds(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{
		QueueSize:   4,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, zerolog.Nop())
	if err := d.Enqueue(context.Background(), DocOpEvent{DocID: "d1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Close()

	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}
	if st := d.Stats(); st.Sent != 1 || st.Dropped != 0 {
		t.Fatalf("Stats() = %+v, want 1 sent", st)
	}
}

func TestKafkaDispatcher_DropsAfterRetries(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{
		MaxRetry:    1,
		BaseBackoff: time.Millisecond,
	}, zerolog.Nop())
	if err := d.Enqueue(context.Background(), DocOpEvent{DocID: "d1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	d.Close()

	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}
	if st := d.Stats(); st.Sent != 0 || st.Dropped != 1 {
		t.Fatalf("Stats() = %+v, want 1 dropped", st)
	}
}

func TestKafkaDispatcher_Backoff(t *testing.T) {
	d := &KafkaDispatcher{opt: KafkaDispatcherOptions{BaseBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}}
	want := []time.Duration{10, 20, 40, 50, 50}
	for attempt, w := range want {
		if got := d.backoff(attempt); got != w*time.Millisecond {
			t.Fatalf("backoff(%d) = %v, want %v", attempt, got, w*time.Millisecond)
		}
	}
}

func TestKafkaDispatcher_KeepsPerDocumentOrder(t *testing.T) {
	producer := newMockProducer(t)
	const n = 20
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 2*n; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var evt DocOpEvent
			if err := json.Unmarshal(val, &evt); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if evt.Revision != seen[evt.DocID]+1 {
				return fmt.Errorf("%s: revision %d after %d", evt.DocID, evt.Revision, seen[evt.DocID])
			}
			seen[evt.DocID] = evt.Revision
			return nil
		})
	}

	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{QueueSize: 4 * n, Workers: 4}, zerolog.Nop())
	for rev := 1; rev <= n; rev++ {
		for _, doc := range []string{"a", "b"} {
			if err := d.Enqueue(context.Background(), DocOpEvent{DocID: doc, Revision: rev}); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
		}
	}
	d.Close()

	if err := producer.Close(); err != nil {
		t.Fatalf("producer.Close() error = %v", err)
	}
	if seen["a"] != n || seen["b"] != n {
		t.Fatalf("last revisions = %v, want %d each", seen, n)
	}
	if st := d.Stats(); st.Sent != 2*n {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestKafkaDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{}, zerolog.Nop())
	d.Close()
	d.Close()
	if err := d.Enqueue(context.Background(), DocOpEvent{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Enqueue() error = %v, want ErrDispatcherClosed", err)
	}
}

func TestKafkaDispatcher_FullQueueHonoursContext(t *testing.T) {
	d := &KafkaDispatcher{queues: []chan DocOpEvent{make(chan DocOpEvent, 1)}, logger: zerolog.Nop()}
	d.queues[0] <- DocOpEvent{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(ctx, DocOpEvent{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue() error = %v, want deadline exceeded", err)
	}
	if st := d.Stats(); st.Dropped != 1 || st.Queued != 1 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestSemaphoreControl(t *testing.T) {
	s := NewSemaphoreControl(1)
	if err := s.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Release() on empty = %v", err)
	}
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("second Acquire() = %v, want ErrAcquireTimeout", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}
