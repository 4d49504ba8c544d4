// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter sends and edits messages. It never consumes updates; the bot
// has no inbound command surface.
type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{bot: b, log: log}, nil
}

func (a *Adapter) Send(ctx context.Context, to transport.ChatTarget, msg transport.Message) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	m, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, msg.Text, sendOptions(to.ThreadID, msg.Preview))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: m.ID}, nil
}

func (a *Adapter) Edit(ctx context.Context, ref transport.MessageRef, msg transport.Message) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	target := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(target, msg.Text, sendOptions(0, msg.Preview))
	if err == nil {
		return nil
	}
	if isNotModified(err) {
		return nil
	}
	if isGone(err) {
		return transport.ErrMessageGone
	}
	return err
}

func sendOptions(threadID int, preview *transport.Preview) *tele.SendOptions {
	opt := &tele.SendOptions{
		ParseMode: tele.ModeHTML,
		ThreadID:  threadID,
	}
	if preview == nil {
		opt.DisableWebPagePreview = true
	}
	return opt
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// isGone matches Bot API failures that mean the edit target is
// permanently unreachable, not transient errors worth retrying.
func isGone(err error) bool {
	desc := strings.ToLower(err.Error())
	for _, s := range []string{
		"message to edit not found",
		"message can't be edited",
		"message_id_invalid",
		"chat not found",
		"bot was blocked",
		"bot was kicked",
		"not enough rights",
	} {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
