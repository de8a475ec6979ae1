package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lcrostarosa/safecheck/internal/dispatch"
)

// PendingKey is the hash holding contactID's undelivered alerts, keyed by alert id.
func PendingKey(contactID string) string {
	return "alerts:pending:" + contactID
}

// NotifyChannel is the pub/sub channel announcing new alerts for contactID.
func NotifyChannel(contactID string) string {
	return "alerts:notify:" + contactID
}

// Redis stores pending alerts in one hash per contact. Each enqueue is also
// announced on the contact's notify channel.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Enqueue(ctx context.Context, contactID string, a dispatch.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, PendingKey(contactID), a.ID, data)
	pipe.Publish(ctx, NotifyChannel(contactID), a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue alert for %s: %w", contactID, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, contactID, alertID string) error {
	if err := r.client.HDel(ctx, PendingKey(contactID), alertID).Err(); err != nil {
		return fmt.Errorf("delete alert %s: %w", alertID, err)
	}
	return nil
}

func (r *Redis) Pending(ctx context.Context, contactID string) ([]dispatch.Alert, error) {
	vals, err := r.client.HGetAll(ctx, PendingKey(contactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}

	out := make([]dispatch.Alert, 0, len(vals))
	for id, raw := range vals {
		var a dispatch.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", id, err)
		}
		out = append(out, a)
	}
	sortAlerts(out)
	return out, nil
}
