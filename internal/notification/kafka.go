package notification

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"example.com/analysis/internal/domain"
)

// KafkaSender publishes conflict messages to a Kafka topic, keyed by
// destination so one destination's messages stay ordered.
type KafkaSender struct {
	brokers []string
	topic   string

	mu     sync.Mutex
	writer *kafka.Writer
}

// NewKafkaSender creates a KafkaSender for the given topic.
func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{brokers: brokers, topic: topic}
}

type conflictEnvelope struct {
	MessageID               uuid.UUID `json:"message_id"`
	RelatedUserAnonymizedID uuid.UUID `json:"related_user_anonymized_id"`
	ActivityID              uuid.UUID `json:"activity_id"`
	GoalID                  uuid.UUID `json:"goal_id"`
	URL                     string    `json:"url,omitempty"`
	OriginMessageID         string    `json:"origin_message_id,omitempty"`
	DestinationID           uuid.UUID `json:"destination_id"`
}

// Send implements MessageSender.
func (s *KafkaSender) Send(ctx context.Context, msg domain.GoalConflictMessage, dest domain.Destination) error {
	envelope := conflictEnvelope{
		MessageID:               msg.ID,
		RelatedUserAnonymizedID: msg.RelatedUserAnonymizedID,
		ActivityID:              msg.ActivityID,
		GoalID:                  msg.GoalID,
		URL:                     msg.URL,
		DestinationID:           dest.ID,
	}
	if msg.OriginID != uuid.Nil {
		envelope.OriginMessageID = msg.OriginID.String()
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return s.lazyWriter().WriteMessages(ctx, kafka.Message{
		Key:   []byte(dest.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("goal.conflict")},
			{Key: "message_id", Value: []byte(msg.ID.String())},
		},
	})
}

func (s *KafkaSender) lazyWriter() *kafka.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Topic:        s.topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		}
	}
	return s.writer
}

// Close releases the underlying writer.
func (s *KafkaSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
