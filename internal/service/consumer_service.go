package service

import (
	"context"
	"encoding/json"

	"ai-docqa-be/internal/metrics"
	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// EventDelivery pushes an encoded event to the realtime clients of one session.
// Typically implemented by the WebSocket Hub.
type EventDelivery interface {
	Send(sessionID string, payload []byte)
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	delivery   EventDelivery
	forwarder  events.Publisher // NATS, optional
	metrics    *metrics.Metrics
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	delivery EventDelivery,
	forwarder events.Publisher,
	m *metrics.Metrics,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		delivery:   delivery,
		forwarder:  forwarder,
		metrics:    m,
		logger:     log,
	}
}

// Consume subscribes and processes messages until ctx is done or the bus is closed.
func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var evt events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		cs.logger.Error("Consumer", "Failed to unmarshal event", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if cs.metrics != nil {
		cs.metrics.Events.WithLabelValues(evt.Type).Inc()
		switch evt.Type {
		case events.DocumentIndexed:
			cs.metrics.Documents.WithLabelValues("indexed").Inc()
		case events.DocumentReused:
			cs.metrics.Documents.WithLabelValues("reused").Inc()
		case events.DocumentFailed:
			cs.metrics.Documents.WithLabelValues("failed").Inc()
		case events.QuestionAnswered:
			cs.metrics.Questions.WithLabelValues("answered").Inc()
		case events.QuestionFailed:
			cs.metrics.Questions.WithLabelValues("failed").Inc()
		}
	}

	if sessionID := events.SessionID(evt); sessionID != "" && cs.delivery != nil {
		frame, _ := json.Marshal(map[string]interface{}{
			"type": "event",
			"data": evt,
		})
		cs.delivery.Send(sessionID, frame)
	}

	// The external bus is best-effort; a NATS outage must not stall the realtime stream.
	if cs.forwarder != nil {
		if err := cs.forwarder.Publish(ctx, evt); err != nil {
			cs.logger.Warn("Consumer", "Failed to forward event to NATS", map[string]interface{}{
				"type":  evt.Type,
				"error": err.Error(),
			})
		}
	}

	msg.Ack()
}
