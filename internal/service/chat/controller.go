// Package chat coordinates one active companion conversation: transcript
// hydration, the realtime socket, optimistic sends and daily care.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/logging"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/care"
	"github.com/zhouzirui/z-tavern/companion/internal/service/socket"
	"github.com/zhouzirui/z-tavern/companion/internal/service/transcript"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
)

var (
	ErrNoSession     = errors.New("no active chat session")
	ErrCannotConnect = errors.New("cannot start chat")
)

// HistoryFetcher loads the server-side conversation for a pair.
type HistoryFetcher interface {
	History(ctx context.Context, userID, companionID string) ([]chat.Message, error)
}

// CompanionRemover deletes a companion on the backend.
type CompanionRemover interface {
	DeleteCompanion(ctx context.Context, userID, companionID string) error
}

// Socket is the realtime transport; *socket.Manager implements it.
type Socket interface {
	Open(ctx context.Context, userID, companionID string, onMessage socket.MessageHandler, onState socket.StateHandler) error
	Send(text string) error
	Close() error
}

// Update is what the view renders after every observed change.
type Update struct {
	CompanionID string
	Status      socket.State
	Messages    []chat.Message
}

// Listener receives updates in the order the controller observed events. It
// is called with the controller lock held and must not call back into the
// controller synchronously.
type Listener func(Update)

// Options 会话节奏参数
type Options struct {
	CareDelay      time.Duration
	HistoryTimeout time.Duration
	DailyCare      bool
	Greeting       bool
	Now            func() time.Time
}

// OptionsFromConfig maps the session section of the configuration.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		CareDelay:      cfg.CareDelay,
		HistoryTimeout: cfg.HistoryTimeout,
		DailyCare:      cfg.DailyCare,
		Greeting:       cfg.Greeting,
		Now:            time.Now,
	}
}

// Dependencies are the collaborators a Controller drives. Remover may be nil.
type Dependencies struct {
	Transcripts *transcript.Store
	History     HistoryFetcher
	Socket      Socket
	Care        *care.Trigger
	Remover     CompanionRemover
	Storage     storage.Store
}

// Controller owns the active session. Every transcript mutation and status
// change happens under mu, so display order is the order events were
// observed.
type Controller struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	gen       uint64
	userID    string
	profile   companion.Profile
	active    bool
	status    socket.State
	careTimer *time.Timer
	listener  Listener
	// abortDial cancels the socket dial of the current generation.
	abortDial context.CancelFunc

	// sockMu serializes Open, Send and Close on the socket. It is never
	// acquired while holding mu.
	sockMu sync.Mutex
}

// NewController 创建会话控制器
func NewController(deps Dependencies, opts Options, logger *zap.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("chat"),
	}
}

// SetListener replaces the update listener.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Status returns the connection state of the active session.
func (c *Controller) Status() socket.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Active returns the active companion, if any.
func (c *Controller) Active() (companion.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile, c.active
}

// Snapshot returns the active transcript.
func (c *Controller) Snapshot() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return []chat.Message{}
	}
	return c.deps.Transcripts.Snapshot(c.profile.ID)
}

// Activate starts a session for userID and profile, deactivating any previous
// one first. Only a configuration error is returned; an unreachable backend
// leaves the session active with status closed.
func (c *Controller) Activate(ctx context.Context, userID string, profile companion.Profile) error {
	c.Deactivate()

	// storage I/O stays outside mu; nothing appends while no session is active
	if err := c.deps.Transcripts.Restore(ctx, profile.ID); err != nil {
		c.logger.Warn("restore transcript failed", zap.String("companion", profile.ID), zap.Error(err))
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.userID = userID
	c.profile = profile
	c.active = true
	c.status = socket.Idle

	restored := c.deps.Transcripts.Len(profile.ID)
	c.notifyLocked()
	c.mu.Unlock()

	c.loadHistory(ctx, gen, userID, profile.ID, restored)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if c.opts.Greeting && c.deps.Transcripts.Len(profile.ID) == 0 {
		now := c.opts.Now()
		c.appendLocked(ctx, chat.NewMessage(chat.SenderAI, chat.KindText, profile.Greeting(now), now))
		c.notifyLocked()
	}
	c.mu.Unlock()

	err := c.open(ctx, gen, userID, profile.ID)

	c.mu.Lock()
	if gen == c.gen && c.opts.DailyCare && profile.ID != "" {
		c.careTimer = time.AfterFunc(c.opts.CareDelay, func() { c.runDailyCare(gen) })
	}
	c.mu.Unlock()

	if errors.Is(err, socket.ErrMissingIdentifiers) {
		return fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	return nil
}

// loadHistory hydrates from the backend. Messages appended after the
// restored prefix while the request was in flight are kept after the
// server history.
func (c *Controller) loadHistory(ctx context.Context, gen uint64, userID, companionID string, restored int) {
	if c.deps.History == nil || !(chat.Session{UserID: userID, CompanionID: companionID}).Complete() {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.HistoryTimeout)
	defer cancel()

	history, err := c.deps.History.History(fetchCtx, userID, companionID)
	if err != nil {
		c.logger.Warn("history fetch failed, keeping local transcript",
			zap.String("companion", companionID), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	current := c.deps.Transcripts.Snapshot(companionID)
	var during []chat.Message
	if len(current) > restored {
		during = current[restored:]
	}

	if err := c.deps.Transcripts.Hydrate(ctx, companionID, history); err != nil {
		c.logger.Warn("persist hydrated transcript failed", zap.String("companion", companionID), zap.Error(err))
	}
	for _, msg := range during {
		c.appendLocked(ctx, msg)
	}

	c.logger.Info("history hydrated",
		zap.String("companion", companionID), zap.Int("server", len(history)), zap.Int("local", len(during)))
	c.notifyLocked()
}

func (c *Controller) open(ctx context.Context, gen uint64, userID, companionID string) error {
	onMessage := func(msg chat.Message) { c.handleInbound(gen, msg) }
	onState := func(state socket.State) { c.handleState(gen, state) }

	// registered before sockMu so Deactivate can abort a dial it would
	// otherwise wait behind
	dialCtx, abortDial := context.WithCancel(ctx)
	defer abortDial()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.abortDial = abortDial
	c.mu.Unlock()

	c.sockMu.Lock()
	defer c.sockMu.Unlock()

	if !c.isCurrent(gen) {
		return nil
	}

	err := c.deps.Socket.Open(dialCtx, userID, companionID, onMessage, onState)
	switch {
	case err == nil:
		return nil
	case !c.isCurrent(gen):
		return nil
	case errors.Is(err, socket.ErrMissingIdentifiers):
		c.logger.Error("cannot open chat socket", zap.String("user", userID), zap.String("companion", companionID), zap.Error(err))
	case errors.Is(err, socket.ErrClosed):
		return nil
	default:
		c.logger.Warn("chat socket unavailable", zap.String("companion", companionID), zap.Error(err))
	}

	c.mu.Lock()
	if gen == c.gen && c.status != socket.Closed {
		c.status = socket.Closed
		c.notifyLocked()
	}
	c.mu.Unlock()
	return err
}

// SendUserMessage appends text optimistically and forwards it. Whitespace-only
// input is ignored. When the socket is not open the message stays in the
// transcript and socket.ErrNotConnected is returned.
func (c *Controller) SendUserMessage(ctx context.Context, text string) (chat.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return chat.Message{}, nil
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return chat.Message{}, ErrNoSession
	}
	gen := c.gen
	msg := chat.NewMessage(chat.SenderHuman, chat.KindText, content, c.opts.Now())
	c.appendLocked(ctx, msg)
	c.notifyLocked()
	c.mu.Unlock()

	c.sockMu.Lock()
	defer c.sockMu.Unlock()

	if !c.isCurrent(gen) {
		return msg, socket.ErrNotConnected
	}
	if err := c.deps.Socket.Send(content); err != nil {
		c.logger.Warn("message kept locally, send failed",
			zap.String("preview", logging.Preview(content, 20)), zap.Error(err))
		return msg, err
	}
	return msg, nil
}

// TriggerManualCare appends a care message immediately. It is not limited to
// once per day.
func (c *Controller) TriggerManualCare(ctx context.Context) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return chat.Message{}, ErrNoSession
	}
	msg := c.deps.Care.NewMessage(c.opts.Now())
	c.appendLocked(ctx, msg)
	c.notifyLocked()
	return msg, nil
}

// Reconnect reopens the socket for the active pair.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNoSession
	}
	gen, userID, companionID := c.gen, c.userID, c.profile.ID
	c.mu.Unlock()

	c.logger.Info("reconnecting", zap.String("companion", companionID))
	if err := c.open(ctx, gen, userID, companionID); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

// Deactivate cancels the care timer and closes the socket. The transcript is
// kept. Late events from the closed session are dropped.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	c.gen++
	wasActive := c.active
	if c.abortDial != nil {
		c.abortDial()
		c.abortDial = nil
	}
	if c.careTimer != nil {
		c.careTimer.Stop()
		c.careTimer = nil
	}
	c.active = false
	if c.status != socket.Idle {
		c.status = socket.Closed
	}
	companionID := c.profile.ID
	c.mu.Unlock()

	c.sockMu.Lock()
	if err := c.deps.Socket.Close(); err != nil {
		c.logger.Warn("close socket failed", zap.Error(err))
	}
	c.sockMu.Unlock()

	if wasActive {
		c.logger.Info("session deactivated", zap.String("companion", companionID))
	}
}

// DeleteCompanion removes the companion on the backend, then its local
// transcript and care marker.
func (c *Controller) DeleteCompanion(ctx context.Context, userID, companionID string) error {
	if c.deps.Remover != nil {
		if err := c.deps.Remover.DeleteCompanion(ctx, userID, companionID); err != nil {
			return err
		}
	}

	if active, ok := c.Active(); ok && active.ID == companionID {
		c.Deactivate()
	}

	if err := c.deps.Transcripts.Forget(ctx, companionID); err != nil {
		return err
	}
	if c.deps.Storage != nil {
		if err := storage.ClearCompanion(ctx, c.deps.Storage, companionID); err != nil {
			return err
		}
	}

	c.logger.Info("companion deleted", zap.String("companion", companionID))
	return nil
}

// ClearLocalData ends the session and wipes every local transcript and care
// marker. Companions on the backend are untouched.
func (c *Controller) ClearLocalData(ctx context.Context) error {
	c.Deactivate()
	c.deps.Transcripts.Reset()
	if c.deps.Storage == nil {
		return nil
	}
	if err := storage.ClearAll(ctx, c.deps.Storage); err != nil {
		return fmt.Errorf("clear local data: %w", err)
	}
	c.logger.Info("local chat data cleared")
	return nil
}

func (c *Controller) handleInbound(gen uint64, msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.logger.Debug("dropping message from stale session", zap.String("id", msg.ID))
		return
	}
	if c.appendLocked(context.Background(), msg) {
		c.notifyLocked()
	}
}

func (c *Controller) handleState(gen uint64, state socket.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.status == state {
		return
	}
	c.status = state
	c.notifyLocked()
}

func (c *Controller) runDailyCare(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.active {
		return
	}
	c.careTimer = nil

	ctx := context.Background()
	appendFn := func(ctx context.Context, msg chat.Message) error {
		c.appendLocked(ctx, msg)
		return nil
	}
	injected, err := c.deps.Care.MaybeInject(ctx, c.profile.ID, c.opts.Now(), appendFn)
	if err != nil {
		c.logger.Warn("daily care failed", zap.String("companion", c.profile.ID), zap.Error(err))
	}
	if injected {
		c.notifyLocked()
	}
}

// appendLocked reports whether msg was new. Persistence failures are logged;
// the message stays in memory.
func (c *Controller) appendLocked(ctx context.Context, msg chat.Message) bool {
	added, err := c.deps.Transcripts.Append(ctx, c.profile.ID, msg)
	if err != nil {
		c.logger.Warn("persist message failed",
			zap.String("companion", c.profile.ID), zap.String("id", msg.ID), zap.Error(err))
	}
	return added
}

func (c *Controller) notifyLocked() {
	if c.listener == nil {
		return
	}
	c.listener(Update{
		CompanionID: c.profile.ID,
		Status:      c.status,
		Messages:    c.deps.Transcripts.Snapshot(c.profile.ID),
	})
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}
