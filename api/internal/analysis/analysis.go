package analysis

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"baysafe/api/internal/preview"
	"baysafe/api/internal/runner"
	"baysafe/api/internal/safety"
	"baysafe/api/internal/session"
	"baysafe/api/internal/storage"
)

const (
	MsgNoImage       = "Error: No se recibió un archivo válido."
	MsgUploadFailed  = "Error: Falló la subida de la imagen a GCS."
	MsgTextOnly      = "Con gusto! por favor carga una imagen para que comencemos"
	MsgSimulated     = "✅ SIMULACIÓN: Objeto clasificado como seguro. Configure Vertex AI para resultados reales."
	MsgSimulationOff = "⚠️ Advertencia: Los recursos de Vertex AI aún no están configurados. La detección está en MODO SIMULACIÓN."

	agentFailurePrefix = "Error crítico durante la ejecución del agente: "
)

// Report is the outcome of one analysis. Failed reports carry the
// user-facing error text in Text.
type Report struct {
	Text      string   `json:"respuesta"`
	Failed    bool     `json:"-"`
	Locator   string   `json:"locator,omitempty"`
	Labels    []string `json:"objetos,omitempty"`
	Hazardous []string `json:"peligrosos,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

type Options struct {
	Folder        string
	AttachImage   bool
	PreviewMaxDim int
	// Simulation answers every image with MsgSimulated without calling any
	// hosted service.
	Simulation bool
}

type Analyzer struct {
	uploader *storage.Uploader
	runner   *runner.Runner
	opts     Options
	log      *zap.Logger
}

func New(up *storage.Uploader, r *runner.Runner, opts Options, log *zap.Logger) *Analyzer {
	if opts.PreviewMaxDim <= 0 {
		opts.PreviewMaxDim = preview.DefaultMaxDim
	}
	return &Analyzer{uploader: up, runner: r, opts: opts, log: log}
}

func (a *Analyzer) Simulation() bool { return a.opts.Simulation }

// Reply answers one chat message. Without an image, including a set image
// flag with no file attached, it asks for one; in simulation mode it returns
// the fixed simulated verdict.
func (a *Analyzer) Reply(ctx context.Context, userID, text string, img *storage.UploadedImage, withImage bool) Report {
	if !withImage || img == nil || len(img.Data) == 0 {
		return Report{Text: MsgTextOnly}
	}
	if a.opts.Simulation {
		return Report{Text: MsgSimulated}
	}
	return a.Analyze(ctx, img, userID, "")
}

// Analyze uploads img and runs the safety agent over its locator. An empty
// sessionID gets a fresh one.
func (a *Analyzer) Analyze(ctx context.Context, img *storage.UploadedImage, userID, sessionID string) Report {
	return a.AnalyzeStream(ctx, img, userID, sessionID, nil)
}

// AnalyzeStream is Analyze with observe called for every agent event in order.
func (a *Analyzer) AnalyzeStream(ctx context.Context, img *storage.UploadedImage, userID, sessionID string, observe func(*session.Event)) (rep Report) {
	if img == nil || len(img.Data) == 0 {
		return Report{Text: MsgNoImage, Failed: true}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	rep.SessionID = sessionID

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Agent panicked", zap.Any("panic", r), zap.String("session_id", sessionID))
			rep = Report{Text: agentFailurePrefix + fmt.Sprint(r), Failed: true, SessionID: sessionID, Locator: rep.Locator}
		}
	}()

	loc := a.uploader.Upload(ctx, *img, a.opts.Folder)
	if loc == "" {
		return Report{Text: MsgUploadFailed, Failed: true, SessionID: sessionID}
	}
	rep.Locator = loc

	events, err := a.runner.Stream(ctx, userID, sessionID, a.userTurn(ctx, loc, img))
	if err != nil {
		a.log.Error("Agent run failed", zap.String("session_id", sessionID), zap.Error(err))
		rep.Text = agentFailurePrefix + err.Error()
		rep.Failed = true
		return rep
	}

	rep.Text = runner.FinalText(a.observe(events, &rep, observe))
	rep.Hazardous, _ = safety.Classify(rep.Labels)
	a.log.Info("Analysis finished",
		zap.String("session_id", sessionID),
		zap.String("locator", loc),
		zap.Strings("labels", rep.Labels),
		zap.Strings("hazardous", rep.Hazardous))
	return rep
}

// userTurn carries the locator and, when enabled, a downscaled copy of the
// image for cross-checking.
func (a *Analyzer) userTurn(_ context.Context, loc string, img *storage.UploadedImage) *session.Content {
	c := session.UserText(loc)
	if !a.opts.AttachImage {
		return c
	}
	jpg, err := preview.JPEG(img.Data, a.opts.PreviewMaxDim, preview.DefaultQuality)
	if err != nil {
		a.log.Warn("Skipping image preview", zap.String("locator", loc), zap.Error(err))
		return c
	}
	c.Parts = append(c.Parts, session.Part{InlineData: &session.Blob{MIMEType: "image/jpeg", Data: jpg}})
	return c
}

func (a *Analyzer) observe(events iter.Seq[*session.Event], rep *Report, fn func(*session.Event)) iter.Seq[*session.Event] {
	return func(yield func(*session.Event) bool) {
		for ev := range events {
			for _, fr := range ev.FunctionResponses() {
				if fr.Name == safety.ToolName {
					rep.Labels = mergeLabels(rep.Labels, fr.Response["objects"])
				}
			}
			if fn != nil {
				fn(ev)
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func mergeLabels(dst []string, v any) []string {
	items, _ := v.([]any)
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}
