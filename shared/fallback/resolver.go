package fallback

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AttemptRecord describes one failed (model, style) attempt, kept for diagnostics.
type AttemptRecord struct {
	ModelIndex int
	StyleIndex int
	Model      string
	Style      string
	Class      Class
	Reason     string
}

// ExhaustedError means every (model x style) combination failed. Fatal for the
// asset: callers must not retry it further.
type ExhaustedError struct {
	Attempts []AttemptRecord
	last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all model/style combinations exhausted after %d attempts: %v", len(e.Attempts), e.last)
}

func (e *ExhaustedError) Unwrap() error { return e.last }

// Provenance identifies the combination that actually produced the asset.
type Provenance struct {
	Model      string
	Style      string
	ModelIndex int
	StyleIndex int
	Attempts   int // combinations tried, including the successful one
}

// ImageAttemptFunc performs one concrete image generation attempt and returns the
// raw image bytes plus their MIME type.
type ImageAttemptFunc func(ctx context.Context, model string, style string) ([]byte, string, error)

// TextAttemptFunc performs one concrete text generation attempt on a model.
type TextAttemptFunc func(ctx context.Context, model string) (string, error)

// Resolver drives the two-level fallback search over an ordered model list and,
// per model, an ordered style list. Each attempt goes through the retry Executor
// so transient failures never surface here.
type Resolver struct {
	exec   *Executor
	logger *zap.Logger
}

func NewResolver(exec *Executor, logger *zap.Logger) *Resolver {
	return &Resolver{
		exec:   exec,
		logger: logger.Named("fallback_resolver"),
	}
}

// Resolve walks models in order and styles in order under each model.
// A content-policy rejection advances the style (the style description, not the
// model, is the cheapest corrective action for a safety filter); any other error
// abandons the remaining styles and advances the model. Success stops the search
// and reports provenance.
func (r *Resolver) Resolve(ctx context.Context, models []string, styles []string, attempt ImageAttemptFunc) ([]byte, string, *Provenance, error) {
	if len(models) == 0 {
		return nil, "", nil, fmt.Errorf("no candidate models configured")
	}
	if len(styles) == 0 {
		styles = []string{""}
	}

	var records []AttemptRecord
	var lastErr error

	for mi, model := range models {
		for si, style := range styles {
			var data []byte
			var mime string
			err := r.exec.Do(ctx, func(ctx context.Context) error {
				var attemptErr error
				data, mime, attemptErr = attempt(ctx, model, style)
				return attemptErr
			})
			if err == nil {
				return data, mime, &Provenance{
					Model:      model,
					Style:      style,
					ModelIndex: mi,
					StyleIndex: si,
					Attempts:   len(records) + 1,
				}, nil
			}
			if ctx.Err() != nil {
				return nil, "", nil, ctx.Err()
			}

			class := Classify(err)
			lastErr = err
			records = append(records, AttemptRecord{
				ModelIndex: mi,
				StyleIndex: si,
				Model:      model,
				Style:      style,
				Class:      class,
				Reason:     err.Error(),
			})
			r.logger.Warn("Generation attempt failed",
				zap.String("model", model),
				zap.Int("model_index", mi),
				zap.Int("style_index", si),
				zap.String("error_class", class.String()),
				zap.Error(err),
			)

			if class != ClassContentPolicy {
				// Infrastructure problem: the remaining styles would hit the same
				// wall, switch model instead.
				break
			}
		}
	}

	return nil, "", nil, &ExhaustedError{Attempts: records, last: lastErr}
}

// ResolveText is the model-only variant used for story text. Text has no style
// axis, so a safety rejection of the primary model immediately retries the whole
// generation once on the fallback model, exactly like an infrastructure failure
// would.
func (r *Resolver) ResolveText(ctx context.Context, models []string, attempt TextAttemptFunc) (string, *Provenance, error) {
	if len(models) == 0 {
		return "", nil, fmt.Errorf("no candidate models configured")
	}

	var records []AttemptRecord
	var lastErr error

	for mi, model := range models {
		var text string
		err := r.exec.Do(ctx, func(ctx context.Context) error {
			var attemptErr error
			text, attemptErr = attempt(ctx, model)
			return attemptErr
		})
		if err == nil {
			return text, &Provenance{
				Model:      model,
				ModelIndex: mi,
				Attempts:   len(records) + 1,
			}, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}

		class := Classify(err)
		lastErr = err
		records = append(records, AttemptRecord{
			ModelIndex: mi,
			Model:      model,
			Class:      class,
			Reason:     err.Error(),
		})
		r.logger.Warn("Text generation attempt failed",
			zap.String("model", model),
			zap.Int("model_index", mi),
			zap.String("error_class", class.String()),
			zap.Error(err),
		)
	}

	return "", nil, &ExhaustedError{Attempts: records, last: lastErr}
}
