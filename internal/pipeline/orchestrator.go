// Package pipeline turns submitted sketches into captions and interpretations.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// Markers that replace the caption and interpretation of a category whose chain failed.
const (
	CaptionErrorMarker        = "ERROR: 캡션 생성 실패"
	InterpretationErrorMarker = "그림 해석 중 오류 발생. API 서버 상태 확인이 필요함."
)

// Result is the outcome of one category. Failed categories carry the error markers and Err.
type Result struct {
	Category       models.Category
	Caption        string
	Interpretation string
	Err            error
}

// Failed reports whether the chain of the category failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Orchestrator runs caption → retrieval → interpretation → translation for every submitted sketch.
type Orchestrator struct {
	service inference.Service
	logger  *slog.Logger
	// callTimeout bounds each remote call, zero means no bound beyond ctx.
	callTimeout time.Duration
}

func NewOrchestrator(service inference.Service, callTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		service:     service,
		logger:      logger.With(slog.String("source", "pipeline.Orchestrator")),
		callTimeout: callTimeout,
	}
}

// Run processes the categories present in artifacts one after another in the fixed category order. A failing
// category never stops the others; every present category gets a Result and absent ones get none.
func (o *Orchestrator) Run(ctx context.Context, artifacts map[models.Category][]byte) []Result {
	return o.RunNotify(ctx, artifacts, nil)
}

// RunNotify is Run that calls notify, when not nil, after each category.
func (o *Orchestrator) RunNotify(
	ctx context.Context,
	artifacts map[models.Category][]byte,
	notify func(Result),
) []Result {
	results := make([]Result, 0, len(artifacts))
	for _, category := range models.Categories {
		image, ok := artifacts[category]
		if !ok {
			continue
		}
		result := o.runCategory(ctx, category, image)
		results = append(results, result)
		if notify != nil {
			notify(result)
		}
	}
	return results
}

func (o *Orchestrator) runCategory(ctx context.Context, category models.Category, image []byte) Result {
	start := time.Now()
	caption, interpretation, err := o.chain(ctx, category, image)
	if err != nil {
		err = errors.Wrap(err, "interpret sketch", slog.String("category", string(category)))
		o.logger.LogAttrs(ctx, slog.LevelError, "category pipeline failed", errors.SlogError(err))
		return Result{
			Category:       category,
			Caption:        CaptionErrorMarker,
			Interpretation: InterpretationErrorMarker,
			Err:            err,
		}
	}
	o.logger.LogAttrs(ctx, slog.LevelInfo, "category interpreted",
		slog.String("category", string(category)),
		slog.Duration("duration", time.Since(start)))
	return Result{
		Category:       category,
		Caption:        caption,
		Interpretation: interpretation,
	}
}

func (o *Orchestrator) chain(ctx context.Context, category models.Category, image []byte) (string, string, error) {
	var (
		caption        inference.Caption
		docs           []inference.Document
		interpretation string
		translated     string
		err            error
	)
	label := category.Label()

	if err = o.call(ctx, func(ctx context.Context) error {
		caption, err = o.service.Caption(ctx, image)
		return err
	}); err != nil {
		return "", "", errors.Wrap(err, "caption")
	}

	if err = o.call(ctx, func(ctx context.Context) error {
		docs, err = o.service.Retrieve(ctx, caption.Primary, label)
		return err
	}); err != nil {
		return "", "", errors.Wrap(err, "retrieve documents")
	}
	if docs == nil {
		docs = []inference.Document{}
	}

	if err = o.call(ctx, func(ctx context.Context) error {
		interpretation, err = o.service.InterpretSingle(ctx, inference.InterpretSingleRequest{
			Caption:   caption.Secondary,
			Documents: docs,
			ImageType: label,
		})
		return err
	}); err != nil {
		return "", "", errors.Wrap(err, "interpret")
	}

	if err = o.call(ctx, func(ctx context.Context) error {
		translated, err = o.service.Translate(ctx, interpretation)
		return err
	}); err != nil {
		return "", "", errors.Wrap(err, "translate interpretation")
	}

	return caption.Primary, translated, nil
}

func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// Merge folds results into the caption and interpretation maps of a session.
func Merge(results []Result) (map[models.Category]string, map[models.Category]string) {
	captions := make(map[models.Category]string, len(results))
	interpretations := make(map[models.Category]string, len(results))
	for _, r := range results {
		captions[r.Category] = r.Caption
		interpretations[r.Category] = r.Interpretation
	}
	return captions, interpretations
}
