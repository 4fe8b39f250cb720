package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/logging"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
)

const (
	readTimeout  = 90 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 实时聊天处理器
type WebSocketHandler struct {
	companions    companion.Store
	conversations *conversation.Service
	replier       *conversation.Replier
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(companions companion.Store, conversations *conversation.Service, replier *conversation.Replier, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		companions:    companions,
		conversations: conversations,
		replier:       replier,
		logger:        logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chat", h.handleWebSocket)
}

type inboundFrame struct {
	Action  string `json:"action"`
	Content string `json:"content"`
}

type outgoingMessage struct {
	ID        string `json:"id,omitempty"`
	Action    string `json:"action,omitempty"`
	Content   string `json:"content,omitempty"`
	Type      string `json:"type,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	loverID := r.URL.Query().Get("lover_id")
	if userID == "" || loverID == "" {
		http.Error(w, "user_id and lover_id are required", http.StatusBadRequest)
		return
	}

	profile, ok := h.companions.FindByID(userID, loverID)
	if !ok {
		profile = companion.Profile{ID: loverID, UserID: userID}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("user", userID), zap.String("companion", loverID))
	logger.Info("new connection")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read error", zap.Error(err))
			} else {
				logger.Info("connection closed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// 非结构化文本按聊天内容处理
			frame = inboundFrame{Action: "message", Content: string(data)}
		}

		switch frame.Action {
		case "heartbeat":
			h.write(conn, outgoingMessage{Action: "heartbeat", Timestamp: time.Now().UnixMilli()}, logger)
		case "message", "":
			if frame.Content == "" {
				continue
			}
			h.handleText(ctx, conn, userID, profile, frame.Content, logger)
		default:
			logger.Debug("ignoring unsupported action", zap.String("action", frame.Action))
		}
	}
}

// handleText 保存用户消息并回复
func (h *WebSocketHandler) handleText(ctx context.Context, conn *websocket.Conn, userID string, profile companion.Profile, text string, logger *zap.Logger) {
	if _, err := h.conversations.SaveMessage(ctx, userID, profile.ID, chat.Message{
		Sender:  chat.SenderHuman,
		Content: text,
		Kind:    chat.KindText,
	}); err != nil {
		logger.Warn("save user message failed", zap.Error(err))
	}

	reply, err := h.conversations.SaveMessage(ctx, userID, profile.ID, chat.Message{
		Sender:  chat.SenderAI,
		Content: h.replier.Reply(profile, text),
		Kind:    chat.KindText,
	})
	if err != nil {
		logger.Warn("save reply failed", zap.Error(err))
		return
	}

	logger.Debug("reply", zap.String("user_text", logging.Preview(text, 20)), zap.String("reply", logging.Preview(reply.Content, 20)))
	h.write(conn, outgoingMessage{
		ID:        reply.ID,
		Content:   reply.Content,
		Type:      string(reply.Kind),
		Timestamp: reply.Timestamp.UnixMilli(),
	}, logger)
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage, logger *zap.Logger) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		logger.Warn("write failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
