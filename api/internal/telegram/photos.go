package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"baysafe/api/internal/storage"
	"baysafe/api/internal/util"
)

func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID

	// largest size is last
	ph := msg.Photo[len(msg.Photo)-1]
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	data, err := r.download(ctx, url)
	if err != nil {
		r.log.Error("Failed to download photo", zap.Int64("chat_id", cid), zap.Error(err))
		r.SendError(cid, err)
		return
	}
	r.send(cid, "📷 Foto recibida, analizando…")

	img := &storage.UploadedImage{
		Filename:    path.Base(url),
		ContentType: util.PickMIME("", "", data),
		Data:        data,
	}
	r.SendReport(cid, r.Pipeline.Reply(ctx, userID(cid), msg.Caption, img, true))
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.MaxPhoto+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.MaxPhoto {
		return nil, fmt.Errorf("download: photo larger than %d bytes", r.MaxPhoto)
	}
	return data, nil
}
