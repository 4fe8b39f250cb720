package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/handler/lovers"
	"github.com/zhouzirui/z-tavern/companion/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/z-tavern/companion/internal/middleware"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/companion/pkg/utils"
)

// NewRouter wires the stand-in backend routes.
func NewRouter(companions companion.Store, conversations *conversation.Service, replier *conversation.Replier, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("devbackend")

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	loversHandler := lovers.New(companions, conversations, logger)
	wsHandler := realtime.NewWebSocketHandler(companions, conversations, replier, logger)

	r.Route("/lovers", func(api chi.Router) {
		loversHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondOK(w, map[string]string{"status": "ok"})
	})

	return r
}
