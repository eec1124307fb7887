package detect

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"baysafe/api/internal/storage"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Params are sent to the hosted endpoint with every prediction request.
type Params struct {
	ConfidenceThreshold float64
	MaxPredictions      int
}

// Prediction is one response item: parallel arrays of labels and scores.
type Prediction struct {
	DisplayNames []string
	Confidences  []float64
}

type Predictor interface {
	Predict(ctx context.Context, content string, p Params) ([]Prediction, error)
	// Endpoint identifies the deployed model; it scopes cache entries.
	Endpoint() string
}

// Cache stores label sets by image hash. *store.DetectionRepo satisfies it.
type Cache interface {
	Find(ctx context.Context, imageHash, endpoint string, maxAge time.Duration) ([]string, error)
	Upsert(ctx context.Context, imageHash, endpoint string, labels []string) error
}

// Result is the tagged outcome of one detection: a failure is never
// reported as an empty OK result.
type Result struct {
	Status Status
	Labels []string
	Reason string
}

func (r Result) OK() bool { return r.Status == StatusOK }

// ToolResponse renders the result as the payload handed back to the agent.
func (r Result) ToolResponse() map[string]any {
	labels := make([]any, 0, len(r.Labels))
	for _, l := range r.Labels {
		labels = append(labels, l)
	}
	out := map[string]any{
		"status":  string(r.Status),
		"objects": labels,
	}
	if r.Reason != "" {
		out["error"] = r.Reason
	}
	return out
}

type Options struct {
	Params        Params
	MinConfidence float64
	CacheMaxAge   time.Duration
}

type Detector struct {
	store     storage.Store
	predictor Predictor
	cache     Cache
	opts      Options
	log       *zap.Logger
}

func New(store storage.Store, predictor Predictor, opts Options, log *zap.Logger) *Detector {
	return &Detector{store: store, predictor: predictor, opts: opts, log: log}
}

// WithCache enables the detection cache. A nil cache disables it.
func (d *Detector) WithCache(c Cache) *Detector {
	d.cache = c
	return d
}

// RejectionReason is returned for locators outside the store's scheme.
func (d *Detector) RejectionReason() string {
	return fmt.Sprintf("Error: La URI debe comenzar con %s://", d.store.Scheme())
}

// Detect fetches the object behind locator and returns the labels the hosted
// model finds above MinConfidence. It never returns an error: failures are
// reported through Result.Status.
func (d *Detector) Detect(ctx context.Context, locator string) Result {
	d.log.Debug("Detecting objects", zap.String("locator", locator))

	loc, err := storage.ParseLocator(strings.TrimSpace(locator), d.store.Scheme())
	if err != nil {
		d.log.Warn("Rejected locator", zap.String("locator", locator), zap.Error(err))
		return Result{Status: StatusRejected, Labels: []string{}, Reason: d.RejectionReason()}
	}

	obj, err := d.store.Get(ctx, loc)
	if err != nil {
		d.log.Error("Failed to download image", zap.String("locator", locator), zap.Error(err))
		return failed("download: %v", err)
	}

	hash := imageHash(obj.Data)
	if labels, ok := d.cached(ctx, hash); ok {
		return Result{Status: StatusOK, Labels: labels}
	}

	content := base64.StdEncoding.EncodeToString(obj.Data)
	preds, err := d.predictor.Predict(ctx, content, d.opts.Params)
	if err != nil {
		d.log.Error("Prediction failed", zap.String("locator", locator), zap.Error(err))
		return failed("predict: %v", err)
	}

	labels := FilterLabels(preds, d.opts.MinConfidence)
	d.log.Info("Objects detected",
		zap.String("locator", locator),
		zap.Strings("labels", labels))

	if d.cache != nil {
		if err := d.cache.Upsert(ctx, hash, d.predictor.Endpoint(), labels); err != nil {
			d.log.Warn("Failed to cache detection", zap.Error(err))
		}
	}
	return Result{Status: StatusOK, Labels: labels}
}

func (d *Detector) cached(ctx context.Context, hash string) ([]string, bool) {
	if d.cache == nil {
		return nil, false
	}
	labels, err := d.cache.Find(ctx, hash, d.predictor.Endpoint(), d.opts.CacheMaxAge)
	if err != nil {
		return nil, false
	}
	d.log.Debug("Detection cache hit", zap.String("image_hash", hash))
	return labels, true
}

// FilterLabels keeps labels scored strictly above min and drops duplicates,
// preserving first-seen order. Filtering happens before deduplication.
func FilterLabels(preds []Prediction, min float64) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range preds {
		n := len(p.DisplayNames)
		if len(p.Confidences) < n {
			n = len(p.Confidences)
		}
		for i := 0; i < n; i++ {
			if p.Confidences[i] <= min {
				continue
			}
			name := p.DisplayNames[i]
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

var errNoPredictor = errors.New("detector: predictor is not configured")

func failed(format string, args ...any) Result {
	return Result{Status: StatusFailed, Labels: []string{}, Reason: fmt.Sprintf(format, args...)}
}

func imageHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
