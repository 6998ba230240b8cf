package realtime

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/clothbridge/clothbridge/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRedisBridgeIgnoresOwnMessages(t *testing.T) {
	local := &recorder{}
	b := NewRedisBridge(nil, "c", local, logger.Discard())
	b.deliver(context.Background(), `{"origin":"`+b.origin+`","type":"match.created","recipients":["a"]}`)
	b.deliver(context.Background(), `{"origin":"other","type":"match.created","recipients":["a"]}`)
	b.deliver(context.Background(), `not json`)
	require.Equal(t, 1, local.len())
}

func TestRedisBridgeIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	channel := "clothbridge:test:" + time.Now().Format("150405.000")

	localA, localB := &recorder{}, &recorder{}
	a := NewRedisBridge(redis.NewClient(&redis.Options{Addr: addr}), channel, localA, logger.Discard())
	b := NewRedisBridge(redis.NewClient(&redis.Options{Addr: addr}), channel, localB, logger.Discard())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Stop(ctx)
	defer b.Stop(ctx)

	a.Publish(ctx, NewEvent(EventMatchAccepted, map[string]string{"id": "m1"}, "u1"))

	require.Eventually(t, func() bool { return localB.len() == 1 }, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, localA.len())
}
