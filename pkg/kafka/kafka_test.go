package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestDecodeJSON(t *testing.T) {
	type doc struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	got, err := DecodeJSON[doc]([]byte(`{"id":"7","title":"le petit prince"}`))
	if err != nil || got.ID != "7" || got.Title != "le petit prince" {
		t.Errorf("DecodeJSON = %+v, %v", got, err)
	}
	if _, err := DecodeJSON[doc]([]byte(`[1,2`)); err == nil {
		t.Errorf("expected an error for malformed json")
	}
}

func TestConsumerOptions(t *testing.T) {
	s := consumerSettings{reader: kafka.ReaderConfig{GroupID: "bucketsearch-analytics", StartOffset: kafka.LastOffset}}
	for _, opt := range []ConsumerOption{FromBeginning(), WithGroup("bucketsearch-indexer"), WithHandlerRetries(9)} {
		opt(&s)
	}
	if s.reader.StartOffset != kafka.FirstOffset || s.reader.GroupID != "bucketsearch-indexer" {
		t.Errorf("reader config = %+v", s.reader)
	}
	if s.retry.MaxAttempts != 9 {
		t.Errorf("retry attempts = %d", s.retry.MaxAttempts)
	}
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "q:bakery", Value: map[string]int{"hits": 3}},
		{Key: "q:harbor", Value: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Key) != "q:bakery" || string(msgs[0].Value) != `{"hits":3}` {
		t.Errorf("messages = %+v", msgs)
	}
	if _, err := encode([]Event{{Key: "bad", Value: make(chan int)}}); err == nil {
		t.Errorf("expected an error for an unencodable value")
	}
}

func TestProducerOptions(t *testing.T) {
	w := &kafka.Writer{}
	for _, opt := range []ProducerOption{Compressed(), WithBatchTimeout(50 * time.Millisecond)} {
		opt(w)
	}
	if w.Compression != kafka.Snappy || w.BatchTimeout != 50*time.Millisecond {
		t.Errorf("writer = %+v", w)
	}
}
