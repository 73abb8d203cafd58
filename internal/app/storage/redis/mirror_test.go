package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/visasight/prediction-service/internal/app/domain/model"
)

// TestMirrorIntegration exercises the mirror against a live Redis. Set
// TEST_REDIS_ADDR to run it, e.g. TEST_REDIS_ADDR=localhost:6379.
func TestMirrorIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis at %s: %v", addr, err)
	}
	client.FlushDB(ctx)

	mirror := NewMirror(client, time.Minute)

	trained := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := model.Descriptor{
		Name:      "Random Forest",
		Version:   "v1.4.0",
		Family:    model.FamilyTabularRF,
		TrainedAt: &trained,
		Metrics:   map[string]float64{"f1_macro": 0.81},
		IsActive:  true,
	}
	if err := mirror.SaveDescriptor(ctx, d); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	if err := mirror.SaveActive(ctx, d.Version); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}

	active, err := mirror.ActiveVersion(ctx)
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if active != "v1.4.0" {
		t.Fatalf("active = %q, want v1.4.0", active)
	}

	descriptors, err := mirror.ListDescriptors(ctx)
	if err != nil {
		t.Fatalf("ListDescriptors: %v", err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(descriptors))
	}
	got := descriptors[0]
	if got.Version != d.Version || got.Family != d.Family || got.Metrics["f1_macro"] != 0.81 {
		t.Fatalf("round-tripped descriptor = %+v", got)
	}
}

func TestActiveVersionEmptyWhenUnset(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 10})
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	ctx := context.Background()
	client.FlushDB(ctx)

	mirror := NewMirror(client, 0)
	active, err := mirror.ActiveVersion(ctx)
	if err != nil {
		t.Fatalf("ActiveVersion: %v", err)
	}
	if active != "" {
		t.Fatalf("active = %q, want empty", active)
	}
}
