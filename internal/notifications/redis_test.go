package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisKeysUsePrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	sink := newRedisWithClient(client, "", time.Hour)
	if got := sink.itemKey("item_1"); got != "opal:export:item_1" {
		t.Fatalf("unexpected item key %q", got)
	}
	sink = newRedisWithClient(client, "tenant-cache", time.Hour)
	if got := sink.jobKey("job_1"); got != "tenant-cache:job:job_1" {
		t.Fatalf("unexpected job key %q", got)
	}
}

func TestRedisIgnoresNonExportEvents(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	sink := newRedisWithClient(client, "opal", time.Hour)
	if err := sink.Publish(context.Background(), Event{Kind: EventTest}); err != nil {
		t.Fatalf("test events must not touch redis, got %v", err)
	}
}
