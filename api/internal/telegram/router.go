package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"baysafe/api/internal/analysis"
	"baysafe/api/internal/storage"
	"baysafe/api/internal/util"
)

const maxMessageLen = 3900

// Bot is the subset of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Pipeline interface {
	Reply(ctx context.Context, userID, text string, img *storage.UploadedImage, withImage bool) analysis.Report
	Simulation() bool
}

type Router struct {
	Bot      Bot
	Pipeline Pipeline
	Timeout  time.Duration
	MaxPhoto int64

	log   *zap.Logger
	httpc *http.Client
}

func NewRouter(bot Bot, p Pipeline, timeout time.Duration, log *zap.Logger) *Router {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Router{
		Bot:      bot,
		Pipeline: p,
		Timeout:  timeout,
		MaxPhoto: 20 << 20,
		log:      log,
		httpc:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Router) HandleCommand(upd tgbotapi.Update) {
	cid := upd.Message.Chat.ID
	switch upd.Message.Command() {
	case "start":
		r.send(cid, "Envíame una foto del espacio de tu bebé y te diré qué objetos pueden ser peligrosos.\nComandos: /health, /estado")
	case "health":
		r.send(cid, "✅ OK")
	case "estado":
		if r.Pipeline.Simulation() {
			r.send(cid, analysis.MsgSimulationOff)
			return
		}
		r.send(cid, "✅ Vertex AI configurado.")
	default:
		r.send(cid, "Comando desconocido")
	}
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID
	unlock := lockChat(cid)
	defer unlock()

	if msg.IsCommand() {
		r.HandleCommand(upd)
		return
	}

	// фото
	if len(msg.Photo) > 0 {
		r.acceptPhoto(*msg)
		return
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()
		r.SendReport(cid, r.Pipeline.Reply(ctx, userID(cid), text, nil, false))
	}
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		r.log.Warn("Telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) SendReport(chatID int64, rep analysis.Report) {
	if rep.Failed {
		r.send(chatID, "⚠️ "+rep.Text)
		return
	}
	text := rep.Text
	if len(rep.Hazardous) > 0 {
		text = "🚨 Objetos peligrosos: " + strings.Join(rep.Hazardous, ", ") + "\n\n" + text
	}
	r.send(chatID, util.Truncate(text, maxMessageLen))
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, fmt.Sprintf("Error: %v", err))
}

func userID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}
