package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"baysafe/api/internal/analysis"
	"baysafe/api/internal/config"
	"baysafe/api/internal/session"
	"baysafe/api/internal/storage"
)

type fakePipeline struct {
	report    analysis.Report
	sim       bool
	calls     int
	gotImage  *storage.UploadedImage
	gotWith   bool
	gotText   string
	events    []*session.Event
	deadlined bool
}

func (f *fakePipeline) Reply(ctx context.Context, _ string, text string, img *storage.UploadedImage, withImage bool) analysis.Report {
	f.calls++
	f.gotText, f.gotImage, f.gotWith = text, img, withImage
	_, f.deadlined = ctx.Deadline()
	if !withImage {
		return analysis.Report{Text: analysis.MsgTextOnly}
	}
	if img == nil {
		return analysis.Report{Text: analysis.MsgTextOnly}
	}
	return f.report
}

func (f *fakePipeline) AnalyzeStream(_ context.Context, img *storage.UploadedImage, _, _ string, observe func(*session.Event)) analysis.Report {
	f.calls++
	f.gotImage = img
	for _, ev := range f.events {
		observe(ev)
	}
	return f.report
}

func (f *fakePipeline) Simulation() bool { return f.sim }

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func newTestHandle(p Pipeline) *Handle {
	return New(p, config.ServerConfig{MaxUploadSize: 1 << 20, RequestTimeout: 5 * time.Second}, zap.NewNop())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func postForm(h *Handle, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, h *Handle, fields map[string]string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if file != nil {
		fw, err := mw.CreateFormFile("imagen", "cuarto.jpg")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(file)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestChat_EmptyContent(t *testing.T) {
	p := &fakePipeline{}
	rec := postForm(newTestHandle(p), url.Values{"mensaje": {""}, "tiene_imagen": {"False"}})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "error" || out["mensaje"] != "Contenido vacío" {
		t.Errorf("unexpected body %v", out)
	}
	if p.calls != 0 {
		t.Error("pipeline must not be invoked for empty content")
	}

	// missing fields behave the same
	rec = postForm(newTestHandle(p), url.Values{})
	if out := decode(t, rec); out["mensaje"] != "Contenido vacío" {
		t.Errorf("unexpected body %v", out)
	}
}

func TestChat_TextOnly(t *testing.T) {
	p := &fakePipeline{}
	rec := postForm(newTestHandle(p), url.Values{"mensaje": {"hola"}, "tiene_imagen": {"False"}})

	out := decode(t, rec)
	if out["status"] != "ok" || out["respuesta"] != analysis.MsgTextOnly {
		t.Errorf("unexpected body %v", out)
	}
	if p.gotWith {
		t.Error("text-only message must not request analysis")
	}
}

func TestChat_WithImage(t *testing.T) {
	p := &fakePipeline{report: analysis.Report{
		Text:      "Se detectó una batería.",
		Labels:    []string{"bateria", "pelota"},
		Hazardous: []string{"bateria"},
	}}
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	rec := postMultipart(t, newTestHandle(p), map[string]string{"mensaje": "", "tiene_imagen": "True"}, img)

	out := decode(t, rec)
	if out["status"] != "ok" || out["respuesta"] != "Se detectó una batería." {
		t.Errorf("unexpected body %v", out)
	}
	if objs, _ := out["peligrosos"].([]any); len(objs) != 1 || objs[0] != "bateria" {
		t.Errorf("unexpected hazardous list %v", out["peligrosos"])
	}
	if p.gotImage == nil || !bytes.Equal(p.gotImage.Data, img) || p.gotImage.Filename != "cuarto.jpg" {
		t.Errorf("pipeline received %+v", p.gotImage)
	}
	if !p.deadlined {
		t.Error("pipeline context must carry a deadline")
	}
}

func TestChat_ImageFlagWithoutFile(t *testing.T) {
	p := &fakePipeline{}
	rec := postMultipart(t, newTestHandle(p), map[string]string{"tiene_imagen": "True"}, nil)

	out := decode(t, rec)
	if out["status"] != "ok" || out["respuesta"] != analysis.MsgTextOnly {
		t.Errorf("unexpected body %v", out)
	}
	if !p.gotWith || p.gotImage != nil {
		t.Errorf("pipeline got withImage=%v image=%+v", p.gotWith, p.gotImage)
	}
}

func TestChat_WhitespaceMessageIsContent(t *testing.T) {
	p := &fakePipeline{}
	rec := postMultipart(t, newTestHandle(p), map[string]string{"mensaje": "   ", "tiene_imagen": "False"}, nil)

	out := decode(t, rec)
	if out["status"] != "ok" || out["respuesta"] != analysis.MsgTextOnly {
		t.Errorf("unexpected body %v", out)
	}
	if p.calls != 1 {
		t.Errorf("expected pipeline call, got %d", p.calls)
	}
}

func TestChat_FailedReport(t *testing.T) {
	p := &fakePipeline{report: analysis.Report{Text: analysis.MsgUploadFailed, Failed: true}}
	rec := postMultipart(t, newTestHandle(p), map[string]string{"tiene_imagen": "True"}, []byte{1, 2, 3})

	out := decode(t, rec)
	if out["status"] != "error" || out["mensaje"] != analysis.MsgUploadFailed {
		t.Errorf("unexpected body %v", out)
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	p := &fakePipeline{}
	rec := httptest.NewRecorder()
	newTestHandle(p).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "error" || out["mensaje"] != "Método no permitido" {
		t.Errorf("unexpected body %v", out)
	}
	if p.calls != 0 {
		t.Error("pipeline must not be invoked")
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandle(&fakePipeline{})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("unexpected healthz %d %q", rec.Code, rec.Body.String())
	}

	h.WithDB(fakeDB{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the database is down, got %d", rec.Code)
	}
}

func TestStatus_Simulation(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandle(&fakePipeline{sim: true}).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	out := decode(t, rec)
	if out["simulacion"] != true || out["advertencia"] != analysis.MsgSimulationOff {
		t.Errorf("unexpected body %v", out)
	}
}

func deadlineFor(t *testing.T, h *Handle, target string, header string) time.Duration {
	t.Helper()
	var got time.Duration
	r := h.Router()
	r.GET("/deadline", func(c *gin.Context) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		dl, _ := ctx.Deadline()
		got = time.Until(dl)
	})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("X-Request-Timeout", header)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestRequestTimeoutHeader(t *testing.T) {
	h := New(&fakePipeline{}, config.ServerConfig{RequestTimeout: time.Minute}, zap.NewNop())

	if got := deadlineFor(t, h, "/deadline", "30"); got <= 25*time.Second || got > 30*time.Second {
		t.Errorf("expected ~30s deadline, got %v", got)
	}
	if got := deadlineFor(t, h, "/deadline?timeoutSec=10", ""); got <= 5*time.Second || got > 10*time.Second {
		t.Errorf("expected ~10s deadline from query, got %v", got)
	}
}

func TestRequestTimeout_CappedAtConfigured(t *testing.T) {
	h := newTestHandle(&fakePipeline{}) // RequestTimeout: 5s

	for _, v := range []string{"30", "9223372036854775807", "99999999999", "-5", "abc"} {
		got := deadlineFor(t, h, "/deadline", v)
		if got <= 4*time.Second || got > 5*time.Second {
			t.Errorf("X-Request-Timeout %q: expected ~5s deadline, got %v", v, got)
		}
	}
	if got := deadlineFor(t, h, "/deadline?timeoutSec=99999999999", ""); got <= 4*time.Second || got > 5*time.Second {
		t.Errorf("timeoutSec: expected ~5s deadline, got %v", got)
	}
}

func TestChatWS_StreamsEvents(t *testing.T) {
	p := &fakePipeline{
		report: analysis.Report{Text: "Zona segura.", Labels: []string{"pelota"}, Hazardous: []string{}},
		events: []*session.Event{
			{ID: "1", Author: "BaySafe_Unified", Content: &session.Content{Role: "model", Parts: []session.Part{
				{FunctionCall: &session.FunctionCall{Name: "predict_image_object_detection_sample"}},
			}}},
			{ID: "2", Author: "BaySafe_Unified", Content: session.ModelText("Zona segura.")},
		},
	}
	srv := httptest.NewServer(newTestHandle(p).Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsRequest{ImagenB64: "data:image/jpeg;base64,/9j/4AAQ", Filename: "a.jpg"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var frames []wsFrame
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, f)
		if f.Type == "final" {
			break
		}
	}
	if len(frames) != 3 {
		t.Fatalf("expected 2 event frames and a final frame, got %d", len(frames))
	}
	if frames[0].Event == nil || frames[0].Event.ID != "1" {
		t.Errorf("unexpected first frame %+v", frames[0])
	}
	final := frames[2]
	if final.Status != "ok" || final.Respuesta != "Zona segura." || len(final.Objetos) != 1 {
		t.Errorf("unexpected final frame %+v", final)
	}
}

func TestChatWS_EmptyMessage(t *testing.T) {
	p := &fakePipeline{}
	srv := httptest.NewServer(newTestHandle(p).Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteJSON(wsRequest{})
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != "final" || f.Status != "error" || f.Mensaje != "Contenido vacío" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func dialWS(srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	hdr := http.Header{}
	if origin != "" {
		hdr.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", hdr)
}

func TestChatWS_Origin(t *testing.T) {
	cfg := config.ServerConfig{
		MaxUploadSize:  1 << 20,
		RequestTimeout: 5 * time.Second,
		AllowedOrigins: []string{"https://app.baysafe.example"},
	}
	srv := httptest.NewServer(New(&fakePipeline{}, cfg, zap.NewNop()).Router())
	defer srv.Close()

	tests := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{srv.URL, true},
		{"https://app.baysafe.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		conn, resp, err := dialWS(srv, tt.origin)
		if tt.ok {
			if err != nil {
				t.Errorf("origin %q: dial failed: %v", tt.origin, err)
				continue
			}
			conn.Close()
			continue
		}
		if err == nil {
			conn.Close()
			t.Errorf("origin %q: cross-site upgrade must be rejected", tt.origin)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("origin %q: expected 403, got %v", tt.origin, resp)
		}
	}
}

func TestChatWS_WildcardOrigin(t *testing.T) {
	cfg := config.ServerConfig{RequestTimeout: 5 * time.Second, AllowedOrigins: []string{"*"}}
	srv := httptest.NewServer(New(&fakePipeline{}, cfg, zap.NewNop()).Router())
	defer srv.Close()

	conn, _, err := dialWS(srv, "https://any.example")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
