// Package care injects companion-authored care messages, at most once per
// companion per local calendar day.
package care

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/storage"
)

// DateLayout is the persisted form of the daily marker.
const DateLayout = "2006-01-02"

// Phrases 关怀消息池
var Phrases = []string{
	"今天记得多喝水哦～我会一直陪着你的💧",
	"工作累了就休息一下吧，身体最重要！我会一直守护你💪",
	"今天天气怎么样？记得根据天气增减衣物哦～",
	"今天吃了什么好吃的吗？要记得按时吃饭哦！",
	"最近睡眠怎么样？要早点休息，我可心疼你了🌙",
}

// Source picks phrase indexes. *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// AppendFunc stores a message in the companion's transcript.
type AppendFunc func(ctx context.Context, msg chat.Message) error

// Trigger decides when the daily care message is due.
type Trigger struct {
	kv      storage.Store
	source  Source
	phrases []string
	logger  *zap.Logger
}

// NewTrigger 创建关怀触发器，source 为空时使用全局随机源
func NewTrigger(kv storage.Store, source Source, logger *zap.Logger) *Trigger {
	if source == nil {
		source = globalSource{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		kv:      kv,
		source:  source,
		phrases: Phrases,
		logger:  logger.Named("care"),
	}
}

// NewMessage builds a care message from the phrase pool. It is not gated by
// the daily marker.
func (t *Trigger) NewMessage(now time.Time) chat.Message {
	phrase := t.phrases[t.source.IntN(len(t.phrases))]
	return chat.NewMessage(chat.SenderAI, chat.KindCare, phrase, now)
}

// MaybeInject appends a care message when none was injected for companionID
// on now's local date. The marker is written only after a successful append.
func (t *Trigger) MaybeInject(ctx context.Context, companionID string, now time.Time, appendFn AppendFunc) (bool, error) {
	today := now.Local().Format(DateLayout)
	key := storage.CareDateKey(companionID)

	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read care marker: %w", err)
	}
	if ok && strings.TrimSpace(string(raw)) == today {
		t.logger.Debug("care already sent today", zap.String("companion", companionID), zap.String("date", today))
		return false, nil
	}

	msg := t.NewMessage(now)
	if err := appendFn(ctx, msg); err != nil {
		return false, fmt.Errorf("append care message: %w", err)
	}
	if err := t.kv.Set(ctx, key, []byte(today)); err != nil {
		return true, fmt.Errorf("write care marker: %w", err)
	}

	t.logger.Info("daily care injected", zap.String("companion", companionID), zap.String("date", today))
	return true, nil
}
