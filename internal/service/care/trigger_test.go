package care

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
)

type fixedSource int

func (f fixedSource) IntN(n int) int { return int(f) % n }

type collector struct {
	messages []chat.Message
	err      error
}

func (c *collector) append(_ context.Context, msg chat.Message) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func TestMaybeInjectOncePerDay(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	trigger := NewTrigger(kv, fixedSource(2), zap.NewNop())
	out := &collector{}

	morning := time.Date(2026, 5, 4, 8, 0, 0, 0, time.Local)
	evening := time.Date(2026, 5, 4, 22, 0, 0, 0, time.Local)

	injected, err := trigger.MaybeInject(ctx, "c1", morning, out.append)
	require.NoError(t, err)
	assert.True(t, injected)

	injected, err = trigger.MaybeInject(ctx, "c1", evening, out.append)
	require.NoError(t, err)
	assert.False(t, injected)

	require.Len(t, out.messages, 1)
	msg := out.messages[0]
	assert.Equal(t, chat.KindCare, msg.Kind)
	assert.Equal(t, chat.SenderAI, msg.Sender)
	assert.Equal(t, Phrases[2], msg.Content)

	raw, ok, err := kv.Get(ctx, storage.CareDateKey("c1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-05-04", string(raw))
}

func TestMaybeInjectNextDayAndPerCompanion(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	trigger := NewTrigger(kv, fixedSource(0), nil)
	out := &collector{}

	day1 := time.Date(2026, 5, 4, 23, 59, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Minute)

	for _, tc := range []struct {
		companion string
		at        time.Time
		want      bool
	}{
		{"c1", day1, true},
		{"c2", day1, true},
		{"c1", day1, false},
		{"c1", day2, true},
		{"c2", day2, true},
	} {
		got, err := trigger.MaybeInject(ctx, tc.companion, tc.at, out.append)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s at %s", tc.companion, tc.at)
	}
	assert.Len(t, out.messages, 4)
}

func TestMaybeInjectLeavesMarkerOnAppendFailure(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	trigger := NewTrigger(kv, fixedSource(0), nil)
	boom := errors.New("boom")

	_, err := trigger.MaybeInject(ctx, "c1", time.Now(), (&collector{err: boom}).append)
	require.ErrorIs(t, err, boom)

	_, ok, err := kv.Get(ctx, storage.CareDateKey("c1"))
	require.NoError(t, err)
	assert.False(t, ok, "marker must not be written when nothing was appended")
}

func TestNewMessageIsNotGated(t *testing.T) {
	trigger := NewTrigger(storage.NewMemoryStore(), fixedSource(4), nil)
	now := time.Now()

	a := trigger.NewMessage(now)
	b := trigger.NewMessage(now)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, Phrases[4], a.Content)
	assert.Equal(t, chat.KindCare, b.Kind)
}

func TestGlobalSourceStaysInRange(t *testing.T) {
	trigger := NewTrigger(storage.NewMemoryStore(), nil, nil)
	for i := 0; i < 50; i++ {
		msg := trigger.NewMessage(time.Now())
		assert.Contains(t, Phrases, msg.Content)
	}
}
