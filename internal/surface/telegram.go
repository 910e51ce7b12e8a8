package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"popupq/internal/element"
	logx "popupq/pkg/logx"
)

// TelegramConfig selects the chat pop-ups are posted to.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// RatePerSec throttles Telegram API calls (send + delete). Default 3.
	RatePerSec int
	// KeepMessages leaves retired pop-ups in the chat instead of deleting them.
	KeepMessages bool
}

// messenger is the subset of *tele.Bot the surface needs.
type messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

// Telegram shows a pop-up by posting it to a chat and retires it by deleting
// the message again.
type Telegram struct {
	cfg     TelegramConfig
	bot     messenger
	limiter *rate.Limiter
	log     logx.Logger

	mu   sync.Mutex
	sent map[string]*tele.Message
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram surface: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram surface: chat_id is empty")
	}
	// Offline: the surface only sends, it never polls for updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram surface: %w", err)
	}
	return newTelegram(cfg, b, log), nil
}

func newTelegram(cfg TelegramConfig, bot messenger, log logx.Logger) *Telegram {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		cfg:     cfg,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log.With(logx.String("comp", "surface.telegram")),
		sent:    map[string]*tele.Message{},
	}
}

func (t *Telegram) Attach(ctx context.Context, n *element.Node) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	msg, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, prefixForTags(n)+n.Text, &tele.SendOptions{
		ThreadID:              t.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.mu.Lock()
	t.sent[n.ID] = msg
	t.mu.Unlock()
	return nil
}

func (t *Telegram) Detach(ctx context.Context, n *element.Node) error {
	t.mu.Lock()
	msg, ok := t.sent[n.ID]
	delete(t.sent, n.ID)
	t.mu.Unlock()
	if !ok {
		return ErrNotAttached
	}
	if t.cfg.KeepMessages || msg == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	if err := t.bot.Delete(msg); err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	t.log.Debug("pop-up message deleted", logx.Int("message_id", msg.ID), logx.Duration("took", time.Since(start)))
	return nil
}

func prefixForTags(n *element.Node) string {
	switch {
	case n.HasTag("error"):
		return "🚨 "
	case n.HasTag("info"):
		return "ℹ️ "
	case n.HasTag("success"):
		return "✅ "
	default:
		return ""
	}
}
