package lovers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/companion/pkg/utils"
)

// Handler 伴侣资料与历史消息的HTTP处理器
type Handler struct {
	companions    companion.Store
	conversations *conversation.Service
	logger        *zap.Logger
}

// New 创建伴侣处理器
func New(companions companion.Store, conversations *conversation.Service, logger *zap.Logger) *Handler {
	return &Handler{
		companions:    companions,
		conversations: conversations,
		logger:        logger,
	}
}

// RegisterRoutes 注册伴侣相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/list", h.handleList)
	r.Post("/create", h.handleCreate)
	r.Post("/delete", h.handleDelete)
	r.Get("/history", h.handleHistory)
}

// handleList 列出用户的伴侣
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	profiles := h.companions.List(userID)
	out := make([]backend.ProfileDTO, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, backend.ProfileDTOFrom(p))
	}
	utils.RespondOK(w, out)
}

// handleCreate 创建伴侣
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload backend.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload.Name = strings.TrimSpace(payload.Name)
	if payload.UserID == "" || payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and name are required")
		return
	}

	id := payload.LoverID
	if id == "" {
		id = uuid.NewString()
	}
	profile := companion.Profile{
		ID:          id,
		UserID:      payload.UserID,
		Name:        payload.Name,
		Image:       payload.Avatar,
		Gender:      payload.Gender,
		Personality: companion.Personality(payload.Personality),
		Interests:   payload.Hobbies,
		VoiceStyle:  payload.TalkingStyle,
	}
	h.companions.Save(profile)

	h.logger.Info("companion created", zap.String("user", profile.UserID), zap.String("companion", profile.ID))
	utils.RespondOK(w, backend.ProfileDTOFrom(profile))
}

// handleDelete 删除伴侣及其历史消息
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var payload backend.PairRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.LoverID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and lover_id are required")
		return
	}

	if !h.companions.Delete(payload.UserID, payload.LoverID) {
		utils.RespondError(w, http.StatusNotFound, "companion not found")
		return
	}
	h.conversations.DeleteTranscript(r.Context(), payload.UserID, payload.LoverID)

	h.logger.Info("companion deleted", zap.String("user", payload.UserID), zap.String("companion", payload.LoverID))
	utils.RespondOK(w, nil)
}

// handleHistory 返回历史消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	messages, err := h.conversations.LoadTranscript(r.Context(), query.Get("user_id"), query.Get("lover_id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]backend.MessageDTO, 0, len(messages))
	for _, msg := range messages {
		out = append(out, backend.MessageDTOFrom(msg))
	}
	utils.RespondOK(w, out)
}
