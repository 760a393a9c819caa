package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/playquickdraw/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const eventsChannel = "duel_events"

// matchEvent is the pub/sub envelope for a snapshot.
type matchEvent struct {
	Type  string        `json:"type"`
	Match *models.Match `json:"match"`
}

// PublishMatch pushes a fresh snapshot onto the events channel so every
// process's hub can fan it out. Best-effort.
func PublishMatch(rdb *redis.Client, m *models.Match) {
	event := matchEvent{Type: "match_update", Match: m}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to encode match event: %v", err)
		return
	}
	if err := rdb.Publish(context.Background(), eventsChannel, data).Err(); err != nil {
		log.Printf("[WS] Failed to publish match event for %s: %v", m.ID, err)
	}
}

// StartMatchEventSubscriber subscribes to the events channel and feeds the
// hub. Stateless processes each run their own subscriber so a snapshot
// written by any handler reaches watchers connected anywhere.
func StartMatchEventSubscriber(ctx context.Context, rdb *redis.Client) {
	pubsub := rdb.Subscribe(ctx, eventsChannel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", eventsChannel)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event matchEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("[WS] Invalid match event payload: %v", err)
					continue
				}
				if event.Match == nil {
					continue
				}
				MatchHub.BroadcastToMatch(event.Match.ID, event)
			}
		}
	}()
}
