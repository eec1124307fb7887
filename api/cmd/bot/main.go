package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"baysafe/api/internal/app"
	"baysafe/api/internal/config"
	"baysafe/api/internal/handle"
	"baysafe/api/internal/httpserver"
	"baysafe/api/internal/logger"
	"baysafe/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer a.Close()

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal("Failed to create bot", zap.Error(err))
	}
	bot.Debug = false

	r := telegram.NewRouter(bot, a.Analyzer, cfg.Server.RequestTimeout, log)

	// healthz and webhook share one mux
	h := handle.New(a.Analyzer, cfg.Server, log)
	if a.DB != nil {
		h.WithDB(a.DB)
	}
	mux := http.NewServeMux()
	mux.Handle("/healthz", h.Router())

	go a.RunJanitor(ctx, time.Hour)

	if webhookURL := strings.TrimSpace(cfg.Telegram.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, bot, r, mux, webhookURL, log)
	} else {
		go telegram.RunPolling(ctx, bot, r.HandleUpdate, log)
	}

	srv := httpserver.New(cfg.Addr(), mux, 30*time.Second, log)
	if err := srv.Run(ctx); err != nil {
		log.Error("Health server failed", zap.Error(err))
	}
	log.Info("Bot stopped")
}

func startWebhookMode(ctx context.Context, bot *tgbotapi.BotAPI, r *telegram.Router, mux *http.ServeMux, baseURL string, log *zap.Logger) {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Fatal("Bad webhook URL", zap.Error(err))
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal("Failed to set webhook", zap.Error(err))
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			log.Warn("Bad webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case updates <- *upd:
		case <-ctx.Done():
		}
	})

	go telegram.Consume(ctx, updates, r.HandleUpdate, log)
	log.Info("Webhook registered", zap.String("path", path))
}

func shortHash(s string) string {
	// лёгкий хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
