package chat

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/service/care"
	"github.com/zhouzirui/z-tavern/companion/internal/service/socket"
	"github.com/zhouzirui/z-tavern/companion/internal/service/transcript"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
)

func newSocketController(t *testing.T, opts socket.Options) *Controller {
	t.Helper()
	logger := zap.NewNop()
	kv := storage.NewMemoryStore()
	ctrl := NewController(Dependencies{
		Transcripts: transcript.NewStore(kv, logger),
		Socket:      socket.NewManager(opts, logger),
		Care:        care.NewTrigger(kv, fixedSource(0), logger),
		Storage:     kv,
	}, Options{}, logger)
	t.Cleanup(ctrl.Deactivate)
	return ctrl
}

// stalledSocketURL accepts TCP connections but never answers the websocket
// handshake.
func stalledSocketURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	return "ws://" + ln.Addr().String() + "/lovers/chat"
}

func TestDeactivateAbortsPendingDial(t *testing.T) {
	opts := socket.DefaultOptions(stalledSocketURL(t))
	opts.HandshakeTimeout = 10 * time.Second
	ctrl := newSocketController(t, opts)

	connecting := make(chan struct{}, 1)
	ctrl.SetListener(func(u Update) {
		if u.Status == socket.Connecting {
			select {
			case connecting <- struct{}{}:
			default:
			}
		}
	})

	activated := make(chan error, 1)
	go func() { activated <- ctrl.Activate(context.Background(), "u1", profile("c1")) }()

	select {
	case <-connecting:
	case <-time.After(2 * time.Second):
		t.Fatal("never started connecting")
	}

	start := time.Now()
	ctrl.Deactivate()
	assert.Less(t, time.Since(start), time.Second, "Deactivate waited on the dial")

	select {
	case err := <-activated:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Activate still blocked on the dial")
	}
	_, active := ctrl.Active()
	assert.False(t, active)
}

func TestSwitchingCompanionAbortsPendingDial(t *testing.T) {
	opts := socket.DefaultOptions(stalledSocketURL(t))
	opts.HandshakeTimeout = 10 * time.Second
	ctrl := newSocketController(t, opts)

	connecting := make(chan string, 4)
	ctrl.SetListener(func(u Update) {
		if u.Status == socket.Connecting {
			connecting <- u.CompanionID
		}
	})

	go ctrl.Activate(context.Background(), "u1", profile("c1"))
	select {
	case id := <-connecting:
		require.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("never started connecting")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Activate(context.Background(), "u1", profile("c2"))
	}()

	select {
	case id := <-connecting:
		assert.Equal(t, "c2", id)
	case <-time.After(time.Second):
		t.Fatal("second companion waited on the first dial")
	}
	active, ok := ctrl.Active()
	require.True(t, ok)
	assert.Equal(t, "c2", active.ID)

	ctrl.Deactivate()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Activate still blocked on the dial")
	}
}

func TestNoHeartbeatAfterDeactivate(t *testing.T) {
	const interval = 20 * time.Millisecond

	var mu sync.Mutex
	var heartbeats int
	closed := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(closed)
		for {
			var frame socket.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Action == socket.ActionHeartbeat {
				mu.Lock()
				heartbeats++
				mu.Unlock()
			}
		}
	}))
	t.Cleanup(srv.Close)
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return heartbeats
	}

	opts := socket.DefaultOptions("ws" + strings.TrimPrefix(srv.URL, "http") + "/lovers/chat")
	opts.HeartbeatInterval = interval
	ctrl := newSocketController(t, opts)

	require.NoError(t, ctrl.Activate(context.Background(), "u1", profile("c1")))
	require.Equal(t, socket.Open, ctrl.Status())
	require.Eventually(t, func() bool { return count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	ctrl.Deactivate()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection still open after Deactivate")
	}
	after := count()

	time.Sleep(5 * interval)
	assert.Equal(t, after, count())
	assert.Equal(t, socket.Closed, ctrl.Status())
}

// gatedStore blocks transcript reads until gate is closed.
type gatedStore struct {
	*storage.MemoryStore
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.HasPrefix(key, storage.MessagesKey("")) {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.gate
	}
	return g.MemoryStore.Get(ctx, key)
}

func TestSlowRestoreDoesNotBlockStatus(t *testing.T) {
	logger := zap.NewNop()
	kv := &gatedStore{MemoryStore: storage.NewMemoryStore(), entered: make(chan struct{}, 1), gate: make(chan struct{})}
	ctrl := NewController(Dependencies{
		Transcripts: transcript.NewStore(kv, logger),
		Socket:      &fakeSocket{},
		Care:        care.NewTrigger(kv, fixedSource(0), logger),
		Storage:     kv,
	}, Options{}, logger)
	t.Cleanup(ctrl.Deactivate)

	activated := make(chan error, 1)
	go func() { activated <- ctrl.Activate(context.Background(), "u1", profile("c1")) }()

	select {
	case <-kv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("restore never read storage")
	}

	status := make(chan socket.State, 1)
	go func() { status <- ctrl.Status() }()
	select {
	case <-status:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Status blocked behind transcript restore")
	}

	close(kv.gate)
	select {
	case err := <-activated:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Activate never finished")
	}
	assert.Equal(t, socket.Open, ctrl.Status())
}
