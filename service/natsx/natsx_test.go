package natsx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNatsxChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				trace = append(trace, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		trace = append(trace, "handler")
		return nil
	}, mw("a"), mw("b"))

	require.NoError(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "handler"}, trace)
}

func TestIdemMiddlewareDropsDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(NewMemIdem(ctx, time.Minute), 0))

	msg := NatsxMessage{Subject: "s", Data: []byte("x"), Header: map[string]string{MsgIDHeader: "id-1"}}
	require.NoError(t, h(ctx, msg))
	require.NoError(t, h(ctx, msg))
	assert.Equal(t, 1, calls)

	msg.Header[MsgIDHeader] = "id-2"
	require.NoError(t, h(ctx, msg))
	assert.Equal(t, 2, calls)

	// no header: subject + body
	bare := NatsxMessage{Subject: "s", Data: []byte("body")}
	require.NoError(t, h(ctx, bare))
	require.NoError(t, h(ctx, bare))
	assert.Equal(t, 3, calls)
}

func TestMemIdemExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1000, 0)
	mi := NewMemIdem(ctx, time.Second).(*memIdem)
	mi.now = func() time.Time { return now }

	seen, err := mi.SeenOnce("k", 0)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce("k", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	mi.sweep()
	seen, _ = mi.SeenOnce("k", 0)
	assert.False(t, seen)
}

func TestConfigOptions(t *testing.T) {
	c := NatsxConfig{Servers: []string{"nats://x:4222"}, User: "u", Password: "p"}
	c.norm()
	assert.Equal(t, "moodchat", c.Name)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.Len(t, c.options(), 8)

	c.User = ""
	assert.Len(t, c.options(), 7)
}
