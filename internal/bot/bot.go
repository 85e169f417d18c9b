// Package bot is the Telegram frontend. It maps chat commands onto service
// operations and renders the results as messages; no domain logic lives
// here.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"wgkeeper/internal/service"
	"wgkeeper/internal/store"
)

const userHelp = `These commands are supported:
/request - request a config.
/requestwithkey <key> - request a config using your key.
/pair <code> - claim a tunnel with a pair code.
/list - list your configs.
/help - this message.`

const adminHelp = userHelp + `

Admin commands:
/register [name] - create a config.
/registerwithkey <key> [name] - create a config using a key.
/requests - list config requests.
/approve <id> - approve a request.
/decline <id> - decline a request.
/addadmin <chat id> - grant admin.
/rmadmin <chat id> - revoke admin.`

// Bot runs a long-polling update loop against the Telegram API.
type Bot struct {
	api *tgbotapi.BotAPI
	svc *service.Service
}

func New(token string, svc *service.Service) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	return &Bot{api: api, svc: svc}, nil
}

// Run polls for updates until ctx is cancelled. Handler errors are rendered
// back into the chat, never returned; only the update stream ending stops
// the loop.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	slog.Info("telegram bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update stream closed")
			}
			if upd.Message == nil || !upd.Message.IsCommand() {
				continue
			}
			b.handle(ctx, upd.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	// Any contact registers the chat identity; repeats are no-ops.
	if err := b.svc.RegisterUser(ctx, chatID); err != nil {
		slog.Warn("register chat failed", "chat", chatID, "err", err)
	}
	user, err := b.svc.UserOf(ctx, chatID)
	if err != nil {
		b.reply(chatID, renderErr(err))
		return
	}

	args := strings.Fields(msg.CommandArguments())
	var text string
	switch cmd := msg.Command(); cmd {
	case "help", "start":
		text = userHelp
		if user.IsAdmin() {
			text = adminHelp
		}
	case "request":
		text = b.request(ctx, chatID, "")
	case "requestwithkey":
		if len(args) < 1 {
			text = "Usage: /requestwithkey <key>"
			break
		}
		text = b.request(ctx, chatID, args[0])
	case "pair":
		if len(args) < 1 {
			text = "Usage: /pair <code>"
			break
		}
		text = render(b.svc.CreateAssociation(ctx, args[0], chatID))
	case "list":
		text = b.list(ctx, user)
	case "register":
		text = b.register(ctx, user, strings.Join(args, " "), "")
	case "registerwithkey":
		if len(args) < 1 {
			text = "Usage: /registerwithkey <key> [name]"
			break
		}
		text = b.register(ctx, user, strings.Join(args[1:], " "), args[0])
	case "requests":
		text = b.requests(ctx, user)
	case "approve":
		text = b.settle(ctx, user, args, b.svc.ApproveRequest)
	case "decline":
		text = b.settle(ctx, user, args, b.svc.DeclineRequest)
	case "addadmin":
		text = b.changeAdmin(ctx, user, args, b.svc.AddAdmin)
	case "rmadmin":
		text = b.changeAdmin(ctx, user, args, b.svc.RemoveAdmin)
	default:
		return
	}
	b.reply(chatID, text)
}

func (b *Bot) request(ctx context.Context, chatID int64, key string) string {
	if key != "" {
		if _, err := service.ParseKey(key); err != nil {
			return renderErr(err)
		}
	}
	id, err := b.svc.RequestConfig(ctx, chatID)
	if err != nil {
		return renderErr(err)
	}
	return fmt.Sprintf("Request filed: %s", id)
}

func (b *Bot) list(ctx context.Context, user service.User) string {
	configs, err := b.svc.Configs(ctx, user.ID)
	if err != nil {
		return renderErr(err)
	}
	var sb strings.Builder
	sb.WriteString("Paired ips:\n")
	for _, c := range configs {
		name := c.Name
		if name == "" {
			name = "<unnamed>"
		}
		fmt.Fprintf(&sb, "\t%s - %s\n", c.IP, name)
	}
	return sb.String()
}

// register creates a config for the calling admin and returns the rendered
// config file.
func (b *Bot) register(ctx context.Context, user service.User, name, key string) string {
	if !user.IsAdmin() {
		return renderErr(service.ErrAccessDenied)
	}
	id, err := b.svc.NewConfig(ctx, user, name, key)
	if err != nil {
		return renderErr(err)
	}
	full, err := b.svc.Config(ctx, user, id)
	if err != nil {
		return renderErr(err)
	}
	return fmt.Sprintf("Your config:\n```\n%s\n```", b.svc.RenderConfig(full.Config))
}

func (b *Bot) requests(ctx context.Context, user service.User) string {
	requests, err := b.svc.Requests(ctx, user)
	if err != nil {
		return renderErr(err)
	}
	var sb strings.Builder
	sb.WriteString("Requests:\n")
	for _, r := range requests {
		var author int64
		if r.TelegramID != nil {
			author = *r.TelegramID
		}
		fmt.Fprintf(&sb, "\t%s (author %d) - %s\n", r.ID, author, statusName(r.Status))
	}
	return sb.String()
}

func (b *Bot) settle(ctx context.Context, user service.User, args []string,
	op func(context.Context, service.User, uuid.UUID) error) string {

	if len(args) < 1 {
		return "Usage: /approve|/decline <request id>"
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return renderErr(fmt.Errorf("invalid request id: %w", err))
	}
	return render(op(ctx, user, id))
}

func (b *Bot) changeAdmin(ctx context.Context, user service.User, args []string,
	op func(context.Context, service.User, uuid.UUID) error) string {

	if len(args) < 1 {
		return "Usage: /addadmin|/rmadmin <chat id>"
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return renderErr(fmt.Errorf("invalid chat id: %w", err))
	}
	target, err := b.svc.UserOf(ctx, chatID)
	if err != nil {
		return renderErr(err)
	}
	return render(op(ctx, user, target.ID))
}

func (b *Bot) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		slog.Warn("send message failed", "chat", chatID, "err", err)
	}
}

func render(err error) string {
	if err != nil {
		return renderErr(err)
	}
	return "Success!"
}

func renderErr(err error) string {
	return fmt.Sprintf("Error: %s", err)
}

func statusName(status int) string {
	switch status {
	case store.RequestPending:
		return "pending"
	case store.RequestApproved:
		return "approved"
	case store.RequestDeclined:
		return "declined"
	default:
		return "unknown"
	}
}
