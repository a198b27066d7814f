package websocket

import (
	"context"
	"encoding/json"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"github.com/moodremix/api/internal/model"
)

// EventsChannel carries task transitions from worker processes to the API.
const EventsChannel = "task-events"

// RedisPublisher is the notifier used by asynq workers, which have no
// websocket clients of their own.
type RedisPublisher struct {
	redis   *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client, channel: EventsChannel}
}

func (p *RedisPublisher) publish(taskID string, v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to marshal task event")
		return
	}
	data, err := json.Marshal(BroadcastMessage{TaskID: taskID, Message: msg})
	if err != nil {
		log.WithError(err).Error("failed to marshal task event")
		return
	}
	if err := p.redis.Publish(context.Background(), p.channel, data).Err(); err != nil {
		log.WithError(err).WithField("task_id", taskID).Warn("failed to publish task event")
	}
}

func (p *RedisPublisher) BroadcastProgress(taskID string, progress int, status model.TaskStatus) {
	p.publish(taskID, ProgressMessage(taskID, progress, status))
}

func (p *RedisPublisher) BroadcastComplete(t *model.Task) {
	p.publish(t.ID, CompleteMessage(t))
}

func (p *RedisPublisher) BroadcastError(taskID, code, message string) {
	p.publish(taskID, ErrorMessage(taskID, code, message))
}

// Relay forwards published task events into hub until ctx is done.
func Relay(ctx context.Context, client *redis.Client, hub *Hub) error {
	sub := client.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.WithField("channel", EventsChannel).Info("relaying task events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg BroadcastMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.WithError(err).Warn("dropping malformed task event")
				continue
			}
			hub.Publish(&msg)
		}
	}
}
