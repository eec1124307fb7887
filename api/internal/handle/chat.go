package handle

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baysafe/api/internal/analysis"
	"baysafe/api/internal/storage"
)

// Chat handles one chat message: form fields mensaje and tiene_imagen, plus
// an optional file imagen.
func (h *Handle) Chat(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		errorJSON(c, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload()+1<<20)
	if err := c.Request.ParseMultipartForm(h.maxUpload()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorJSON(c, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		h.log.Warn("Bad chat form", zap.Error(err))
		errorJSON(c, http.StatusBadRequest, msgBadRequest)
		return
	}

	// whitespace counts as content: it gets the text-only prompt
	text := c.PostForm("mensaje")
	withImage := c.DefaultPostForm("tiene_imagen", "False") == "True"
	if text == "" && !withImage {
		errorJSON(c, http.StatusOK, msgEmpty)
		return
	}

	var img *storage.UploadedImage
	if withImage {
		var err error
		img, err = h.formImage(c)
		if err != nil {
			h.log.Warn("Failed to read uploaded image", zap.Error(err))
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	rep := h.pipeline.Reply(ctx, userID(c), text, img, withImage)
	writeReport(c, rep)
}

func (h *Handle) formImage(c *gin.Context) (*storage.UploadedImage, error) {
	fh, err := c.FormFile("imagen")
	if err != nil {
		return nil, err
	}
	if fh.Size > h.maxUpload() {
		return nil, errors.New("file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload()))
	if err != nil {
		return nil, err
	}
	return &storage.UploadedImage{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// writeReport renders a report as the chat envelope. Failed reports use
// status "error" so clients can tell them apart from analyses.
func writeReport(c *gin.Context, rep analysis.Report) {
	if rep.Failed {
		errorJSON(c, http.StatusOK, rep.Text)
		return
	}
	out := gin.H{"status": "ok", "respuesta": rep.Text}
	if len(rep.Labels) > 0 {
		out["objetos"] = rep.Labels
		out["peligrosos"] = rep.Hazardous
	}
	c.JSON(http.StatusOK, out)
}
