package chathub

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// DeliveryChannel is the Redis Pub/Sub channel shared by all instances.
const DeliveryChannel = "sanctuary:deliveries"

type envelope struct {
	Origin      string `json:"origin"`
	RecipientID string `json:"recipient_id"`
	Event       Event  `json:"event"`
}

func (m *Manager) publish(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	return m.redis.Publish(ctx, DeliveryChannel, payload).Err()
}

// Run listens for deliveries published by other instances and pushes them to
// local clients until ctx is cancelled. Without Redis it only waits.
func (m *Manager) Run(ctx context.Context) {
	if m.redis == nil {
		<-ctx.Done()
		return
	}
	pubsub := m.redis.Subscribe(ctx, DeliveryChannel)
	defer pubsub.Close()
	m.logger.Info("delivery listener started", zap.String("instance_id", m.instanceID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.handleRemote([]byte(msg.Payload))
		}
	}
}

func (m *Manager) handleRemote(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.logger.Warn("bad delivery payload", zap.Error(err))
		return
	}
	if env.Origin == m.instanceID {
		return
	}
	m.pushLocal(env.RecipientID, env.Event)
}
