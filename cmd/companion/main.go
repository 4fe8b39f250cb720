package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/backend"
	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/logging"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
	"github.com/zhouzirui/z-tavern/companion/internal/service/care"
	"github.com/zhouzirui/z-tavern/companion/internal/service/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/service/socket"
	"github.com/zhouzirui/z-tavern/companion/internal/service/transcript"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
	"github.com/zhouzirui/z-tavern/companion/internal/tui"
)

const defaultLogFile = "companion.log"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// 终端界面占用 stdout，日志只写文件
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = defaultLogFile
	}
	logger, err := logging.New(cfg.Log.Level, logFile)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	kv, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.Storage.Driver, err)
	}
	defer kv.Close()

	userID := cfg.Session.UserID
	if userID == "" {
		userID, err = storage.EnsureUserID(ctx, kv, time.Now())
		if err != nil {
			log.Fatalf("failed to resolve user id: %v", err)
		}
	}
	logger.Info("starting companion client",
		zap.String("user", userID),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("storage", cfg.Storage.Driver))

	client, err := backend.NewClient(cfg.Backend, logger)
	if err != nil {
		log.Fatalf("failed to build backend client: %v", err)
	}

	sockOpts := socket.DefaultOptions(cfg.Backend.SocketURL)
	sockOpts.HeartbeatInterval = cfg.Session.HeartbeatInterval
	if cfg.Backend.Token != "" {
		sockOpts.Header = map[string][]string{"x-token": {cfg.Backend.Token}}
	}

	controller := chat.NewController(chat.Dependencies{
		Transcripts: transcript.NewStore(kv, logger),
		History:     client,
		Socket:      socket.NewManager(sockOpts, logger),
		Care:        care.NewTrigger(kv, nil, logger),
		Remover:     client,
		Storage:     kv,
	}, chat.OptionsFromConfig(cfg.Session), logger)
	defer controller.Deactivate()

	session := &rememberingSession{Controller: controller, kv: kv, logger: logger}

	preferred, _, err := kv.Get(ctx, storage.CurrentCompanionKey)
	if err != nil {
		logger.Warn("read current companion failed", zap.Error(err))
	}

	model := tui.New(userID, session, client, companion.Seed(userID)).Prefer(string(preferred))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	controller.SetListener(func(u chat.Update) {
		program.Send(tui.UpdateMsg(u))
	})

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		logger.Error("terminal ui exited", zap.Error(err))
		log.Fatalf("terminal ui error: %v", err)
	}
}

// rememberingSession records the last activated companion so the next run
// starts on it.
type rememberingSession struct {
	*chat.Controller
	kv     storage.Store
	logger *zap.Logger
}

func (s *rememberingSession) Activate(ctx context.Context, userID string, profile companion.Profile) error {
	if err := s.kv.Set(ctx, storage.CurrentCompanionKey, []byte(profile.ID)); err != nil {
		s.logger.Warn("remember current companion failed", zap.Error(err))
	}
	return s.Controller.Activate(ctx, userID, profile)
}
