package negotiationRepo

import (
	"context"
	"encoding/json"
	"time"

	"haggle/models"

	"go.uber.org/zap"
)

const snapshotCacheTTL = 30 * time.Minute

func feedChannel(sessionID string) string {
	return "negotiation:feed:" + sessionID
}

// publish fans the full new snapshot out on the session's feed channel and
// refreshes the snapshot cache. Delivery is at-least-once; subscribers use
// the version to drop duplicates and detect gaps.
func (r *mongoNegotiationRepo) publish(session *models.NegotiationSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := models.NegotiationEvent{
		SessionID: session.ID,
		Version:   session.Version,
		Snapshot:  *session,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to marshal negotiation event", zap.Error(err))
		return
	}

	if err := r.feed.Publish(ctx, feedChannel(session.ID), payload).Err(); err != nil {
		// A missed publish is survivable: the subscriber's gap detection
		// forces a full re-fetch on the next event.
		r.logger.Warn("failed to publish negotiation event",
			zap.String("sessionId", session.ID),
			zap.Int64("version", session.Version),
			zap.Error(err))
	}

	if err := r.cache.Set(ctx, "negotiation:snapshot:"+session.ID, payload, snapshotCacheTTL).Err(); err != nil {
		r.logger.Warn("failed to cache negotiation snapshot",
			zap.String("sessionId", session.ID), zap.Error(err))
	}
}

func (r *mongoNegotiationRepo) Subscribe(ctx context.Context, sessionID string) (<-chan models.NegotiationEvent, Unsubscribe, error) {
	pubsub := r.feed.Subscribe(ctx, feedChannel(sessionID))
	// Force the subscription onto the wire before handing the channel out,
	// so no event published after Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	events := make(chan models.NegotiationEvent, 16)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event models.NegotiationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed negotiation event",
					zap.String("sessionId", sessionID), zap.Error(err))
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() { _ = pubsub.Close() }
	return events, unsubscribe, nil
}
