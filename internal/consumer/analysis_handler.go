package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/analysis/internal/domain"
	"example.com/analysis/internal/engine"
)

// EventTypeNetworkActivity is the event type emitted by network gateways
// for category-classified traffic.
const EventTypeNetworkActivity = "network.activity"

// NetworkAnalyzer is the slice of the engine the handler needs.
type NetworkAnalyzer interface {
	AnalyzeNetworkActivity(ctx context.Context, userAnonymizedID uuid.UUID, networkActivity engine.NetworkActivity) error
}

// AnalysisHandler feeds decoded network events into the analysis engine.
type AnalysisHandler struct {
	analyzer NetworkAnalyzer
	logger   *log.Logger
}

// NewAnalysisHandler constructs an AnalysisHandler.
func NewAnalysisHandler(analyzer NetworkAnalyzer, logger *log.Logger) *AnalysisHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[analysis-handler] ", log.LstdFlags)
	}
	return &AnalysisHandler{analyzer: analyzer, logger: logger}
}

type networkEventPayload struct {
	URL        string     `json:"url"`
	Categories []string   `json:"categories"`
	EventTime  *time.Time `json:"event_time,omitempty"`
}

// Handle processes one network activity event. Permanently unprocessable
// events are logged and dropped so the partition keeps moving; transient
// failures are returned for redelivery.
func (h *AnalysisHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != EventTypeNetworkActivity {
		h.logger.Printf("ignoring event type %q (topic=%s, offset=%d)", msg.EventType, msg.Topic, msg.Offset)
		return nil
	}

	var payload networkEventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.Printf("dropping malformed payload (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		return nil
	}
	if len(payload.Categories) == 0 {
		h.logger.Printf("dropping event without categories (topic=%s, offset=%d)", msg.Topic, msg.Offset)
		return nil
	}

	networkActivity := engine.NetworkActivity{
		URL:        payload.URL,
		Categories: payload.Categories,
	}
	if payload.EventTime != nil {
		networkActivity.EventTime = *payload.EventTime
	}

	err := h.analyzer.AnalyzeNetworkActivity(ctx, msg.UserAnonymizedID, networkActivity)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUserNotFound):
		h.logger.Printf("dropping event for unknown user %s (topic=%s, offset=%d)", msg.UserAnonymizedID, msg.Topic, msg.Offset)
		return nil
	case errors.Is(err, domain.ErrWeekBucketOverflow), errors.Is(err, domain.ErrInconsistentState):
		h.logger.Printf("dropping event for user %s after consistency fault: %v", msg.UserAnonymizedID, err)
		return nil
	default:
		return fmt.Errorf("analyze network event for user %s: %w", msg.UserAnonymizedID, err)
	}
}
