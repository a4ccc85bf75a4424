package service

import (
	"context"
	"errors"
	"fmt"

	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/pkg/assistant"
	"ai-docqa-be/pkg/events"
	pktNats "ai-docqa-be/pkg/nats"
)

const orphanDurable = "docqa-orphan-collector"

// VectorStoreDeleter is the part of assistant.Index the collector needs.
type VectorStoreDeleter interface {
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error
}

type IOrphanCollector interface {
	Start(ctx context.Context) error
	Handle(ctx context.Context, event events.Event) error
}

// orphanCollector retries deleting vector stores that a session could not release inline.
type orphanCollector struct {
	subscriber *pktNats.Subscriber
	remote     VectorStoreDeleter
	maxDeliver int
	logger     logger.ILogger
}

func NewOrphanCollector(subscriber *pktNats.Subscriber, remote VectorStoreDeleter, maxDeliver int, log logger.ILogger) IOrphanCollector {
	return &orphanCollector{
		subscriber: subscriber,
		remote:     remote,
		maxDeliver: maxDeliver,
		logger:     log,
	}
}

func (oc *orphanCollector) Start(ctx context.Context) error {
	return oc.subscriber.Subscribe(ctx, events.VectorStoreOrphaned, orphanDurable, oc.maxDeliver, oc.Handle)
}

func (oc *orphanCollector) Handle(ctx context.Context, event events.Event) error {
	vectorStoreID, _ := event.Payload()["vector_store_id"].(string)
	if vectorStoreID == "" {
		oc.logger.Warn("OrphanCollector", "Orphan event without vector_store_id", map[string]interface{}{
			"session_id": events.SessionID(event),
		})
		return nil
	}

	err := oc.remote.DeleteVectorStore(ctx, vectorStoreID)
	if err != nil && !errors.Is(err, assistant.ErrNotFound) {
		return fmt.Errorf("collect vector store %s: %w", vectorStoreID, err)
	}

	oc.logger.Info("OrphanCollector", "Vector store collected", map[string]interface{}{
		"vector_store_id": vectorStoreID,
		"session_id":      events.SessionID(event),
	})
	return nil
}
