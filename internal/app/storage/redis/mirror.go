// Package redis mirrors registry metadata into Redis so sibling replicas
// and the admin dashboard can read descriptor state without hitting the
// serving process.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/visasight/prediction-service/internal/app/domain/model"
)

const (
	descriptorKeyPrefix = "visasight:model:"
	activeKey           = "visasight:model:active"
	indexKey            = "visasight:models"
)

// Mirror publishes descriptor snapshots to Redis. It satisfies the registry
// mirror port.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror wraps a Redis client. A zero ttl keeps keys forever.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	return &Mirror{client: client, ttl: ttl}
}

// SaveDescriptor stores one descriptor snapshot and indexes its version.
func (m *Mirror) SaveDescriptor(ctx context.Context, d model.Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor %s: %w", d.Version, err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, descriptorKeyPrefix+d.Version, payload, m.ttl)
	pipe.SAdd(ctx, indexKey, d.Version)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror descriptor %s: %w", d.Version, err)
	}
	return nil
}

// SaveActive records which version currently serves traffic.
func (m *Mirror) SaveActive(ctx context.Context, version string) error {
	if err := m.client.Set(ctx, activeKey, version, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror active version: %w", err)
	}
	return nil
}

// ActiveVersion reads the mirrored active version. Empty when nothing has
// been mirrored yet.
func (m *Mirror) ActiveVersion(ctx context.Context) (string, error) {
	version, err := m.client.Get(ctx, activeKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active version: %w", err)
	}
	return version, nil
}

// ListDescriptors reads every mirrored descriptor snapshot.
func (m *Mirror) ListDescriptors(ctx context.Context) ([]model.Descriptor, error) {
	versions, err := m.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list mirrored versions: %w", err)
	}

	out := make([]model.Descriptor, 0, len(versions))
	for _, version := range versions {
		payload, err := m.client.Get(ctx, descriptorKeyPrefix+version).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read descriptor %s: %w", version, err)
		}
		var d model.Descriptor
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("parse descriptor %s: %w", version, err)
		}
		out = append(out, d)
	}
	return out, nil
}
