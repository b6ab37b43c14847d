package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Captioner produces a natural-language description of raw image bytes.
type Captioner interface {
	Caption(ctx context.Context, data []byte) (string, error)
}

// Refiner continues a text prompt and returns the full decoded sequence,
// prompt included.
type Refiner interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FallbackCaption is returned whenever the captioning stage fails.
// Captioning failures never fail the outer request.
const FallbackCaption = "A beautiful image"

const altMarker = "Alt:"

// AltSource records which path produced the final alt text, so callers and
// tests can tell a generated answer from a fallback.
type AltSource string

const (
	// SourceGenerated: the model output fit the word budget and was kept.
	SourceGenerated AltSource = "generated"
	// SourceGeneratedTruncated: the model output exceeded 12 words and was
	// cut to the first 10.
	SourceGeneratedTruncated AltSource = "generated_truncated"
	// SourceCaption: the original caption was used instead of model output.
	SourceCaption AltSource = "caption"
	// SourceCaptionTruncated: refinement failed and the caption was cut to
	// its first 10 words.
	SourceCaptionTruncated AltSource = "caption_truncated"
)

type CaptionResult struct {
	Caption  string
	Fallback bool
}

type AltResult struct {
	Alt    string
	Source AltSource
}

type Config struct {
	// Prompt is the refinement template; "{caption}" is replaced with the
	// caption and the template must end in the Alt: continuation marker.
	Prompt string
	// Timeout bounds each model call. Zero disables the deadline.
	Timeout time.Duration
}

// Pipeline sequences the captioning and refinement stages. The model
// accessors load lazily; a load failure in the captioning stage is the
// only error that escapes to the caller.
type Pipeline struct {
	cfg       Config
	captioner func(ctx context.Context) (Captioner, error)
	refiner   func(ctx context.Context) (Refiner, error)
}

func New(cfg Config, captioner func(ctx context.Context) (Captioner, error), refiner func(ctx context.Context) (Refiner, error)) *Pipeline {
	return &Pipeline{cfg: cfg, captioner: captioner, refiner: refiner}
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, p.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// CaptionImage runs the captioning stage on raw upload bytes. A model load
// failure is returned to the caller; any inference failure degrades to the
// fixed fallback caption and is recorded in the result.
func (p *Pipeline) CaptionImage(ctx context.Context, data []byte, filename, contentType string) (CaptionResult, error) {
	slog.Info("Processing image",
		slog.String("filename", filename),
		slog.String("content_type", contentType),
		slog.Int("size", len(data)))

	captioner, err := p.captioner(ctx)
	if err != nil {
		return CaptionResult{}, err
	}

	stage, cancel := p.stageContext(ctx)
	defer cancel()
	caption, err := captioner.Caption(stage, data)
	if err != nil {
		slog.Error("Caption generation failed", slog.String("error", err.Error()))
		return CaptionResult{Caption: FallbackCaption, Fallback: true}, nil
	}
	slog.Info("Generated caption", slog.String("caption", caption))
	return CaptionResult{Caption: caption}, nil
}

// AltFromCaption runs the refinement stage. Every failure path resolves to
// a string: an unavailable or failing refiner falls back to the caption.
func (p *Pipeline) AltFromCaption(ctx context.Context, caption string) AltResult {
	refiner, err := p.refiner(ctx)
	if err != nil {
		slog.Warn("Refinement model unavailable, using raw caption", slog.String("error", err.Error()))
		return AltResult{Alt: caption, Source: SourceCaption}
	}

	prompt := strings.ReplaceAll(p.cfg.Prompt, "{caption}", caption)

	stage, cancel := p.stageContext(ctx)
	defer cancel()
	generated, err := refiner.Generate(stage, prompt)
	if err != nil {
		slog.Warn("Alt text refinement failed", slog.String("error", err.Error()))
		return truncatedCaption(caption)
	}

	alt, source := shapeAlt(extractAlt(generated, prompt), caption)
	slog.Info("Refined alt text", slog.String("alt", alt), slog.String("source", string(source)))
	return AltResult{Alt: alt, Source: source}
}

// AltForImage is the full two-stage pipeline for one upload.
func (p *Pipeline) AltForImage(ctx context.Context, data []byte, filename, contentType string) (CaptionResult, AltResult, error) {
	captionRes, err := p.CaptionImage(ctx, data, filename, contentType)
	if err != nil {
		return CaptionResult{}, AltResult{}, err
	}
	return captionRes, p.AltFromCaption(ctx, captionRes.Caption), nil
}

// extractAlt pulls the continuation after the last Alt: marker, falling
// back to removing the prompt from the decoded sequence.
func extractAlt(generated, prompt string) string {
	if i := strings.LastIndex(generated, altMarker); i >= 0 {
		return strings.TrimSpace(generated[i+len(altMarker):])
	}
	return strings.TrimSpace(strings.ReplaceAll(generated, prompt, ""))
}

// shapeAlt coerces generated text into the 8-12 word budget: over 12 words
// truncates to the first 10, under 8 discards it for the caption, in range
// keeps it. Surrounding quotes and whitespace are stripped last, and an
// empty result falls back to the caption.
func shapeAlt(generated, caption string) (string, AltSource) {
	words := strings.Fields(generated)

	var alt string
	var source AltSource
	switch {
	case len(words) > 12:
		alt = strings.Join(words[:10], " ")
		source = SourceGeneratedTruncated
	case len(words) < 8:
		alt = caption
		source = SourceCaption
	default:
		alt = generated
		source = SourceGenerated
	}

	alt = strings.TrimSpace(strings.Trim(alt, `"'`))
	if alt == "" {
		alt = caption
		source = SourceCaption
	}
	return alt, source
}

// truncatedCaption is the refinement-failure fallback: the first 10 words
// of the caption, or the caption itself when it has no words.
func truncatedCaption(caption string) AltResult {
	words := strings.Fields(caption)
	if len(words) == 0 {
		return AltResult{Alt: caption, Source: SourceCaption}
	}
	if len(words) > 10 {
		return AltResult{Alt: strings.Join(words[:10], " "), Source: SourceCaptionTruncated}
	}
	return AltResult{Alt: strings.Join(words, " "), Source: SourceCaption}
}
