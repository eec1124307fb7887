package handle

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baysafe/api/internal/session"
	"baysafe/api/internal/storage"
	"baysafe/api/internal/util"
)

// wsRequest is the single message a client sends after connecting.
type wsRequest struct {
	Mensaje   string `json:"mensaje"`
	ImagenB64 string `json:"imagen_b64"`
	Filename  string `json:"filename"`
}

type wsFrame struct {
	Type       string         `json:"type"` // "event" | "final"
	Event      *session.Event `json:"event,omitempty"`
	Status     string         `json:"status,omitempty"`
	Respuesta  string         `json:"respuesta,omitempty"`
	Mensaje    string         `json:"mensaje,omitempty"`
	Objetos    []string       `json:"objetos,omitempty"`
	Peligrosos []string       `json:"peligrosos,omitempty"`
}

// ChatWS streams the agent's events for one image, then a final frame.
func (h *Handle) ChatWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// base64 inflates by 4/3
	conn.SetReadLimit(h.maxUpload()*4/3 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	var req wsRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.log.Warn("Bad websocket request", zap.Error(err))
		_ = conn.WriteJSON(wsFrame{Type: "final", Status: "error", Mensaje: msgBadRequest})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	text := req.Mensaje
	if req.ImagenB64 == "" {
		if text == "" {
			_ = conn.WriteJSON(wsFrame{Type: "final", Status: "error", Mensaje: msgEmpty})
			return
		}
		rep := h.pipeline.Reply(ctx, userID(c), text, nil, false)
		_ = conn.WriteJSON(wsFrame{Type: "final", Status: "ok", Respuesta: rep.Text})
		return
	}

	data, mime, err := util.DecodeBase64MaybeDataURL(req.ImagenB64)
	if err != nil || len(data) == 0 {
		_ = conn.WriteJSON(wsFrame{Type: "final", Status: "error", Mensaje: msgBadRequest})
		return
	}
	img := &storage.UploadedImage{Filename: req.Filename, ContentType: mime, Data: data}

	if h.pipeline.Simulation() {
		rep := h.pipeline.Reply(ctx, userID(c), text, img, true)
		_ = conn.WriteJSON(wsFrame{Type: "final", Status: "ok", Respuesta: rep.Text})
		return
	}

	writeFailed := false
	rep := h.pipeline.AnalyzeStream(ctx, img, userID(c), "", func(ev *session.Event) {
		if writeFailed {
			return
		}
		if err := conn.WriteJSON(wsFrame{Type: "event", Event: ev}); err != nil {
			h.log.Warn("WebSocket write failed", zap.Error(err))
			writeFailed = true
		}
	})

	final := wsFrame{Type: "final", Status: "ok", Respuesta: rep.Text, Objetos: rep.Labels, Peligrosos: rep.Hazardous}
	if rep.Failed {
		final = wsFrame{Type: "final", Status: "error", Mensaje: rep.Text}
	}
	if err := conn.WriteJSON(final); err != nil {
		h.log.Warn("WebSocket write failed", zap.Error(err))
	}
}
