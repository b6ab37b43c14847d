package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/alttext/config"
)

// Refiner runs a decoder-only causal language model exported to ONNX. It
// continues a prompt with temperature sampling; the end-of-text token
// doubles as the pad token since the model family ships without one.
type Refiner struct {
	session     *ort.DynamicAdvancedSession
	tok         *bpeTokenizer
	device      string
	temperature float64
	maxNew      int
	eosID       int64

	mu sync.Mutex // a session runs one inference at a time
}

func LoadRefiner(ctx context.Context, cfg config.Config) (*Refiner, error) {
	dir := filepath.Join(cfg.ModelDir, filepath.Base(cfg.RefineModel))

	decPath, err := fetchIfMissing(ctx, dir, "onnx/decoder_model.onnx",
		hubFileURL(cfg.HubBaseUrl, cfg.RefineModel, "onnx/decoder_model.onnx"))
	if err != nil {
		return nil, err
	}
	vocabPath, err := fetchIfMissing(ctx, dir, "vocab.json",
		hubFileURL(cfg.HubBaseUrl, cfg.RefineModel, "vocab.json"))
	if err != nil {
		return nil, err
	}
	mergesPath, err := fetchIfMissing(ctx, dir, "merges.txt",
		hubFileURL(cfg.HubBaseUrl, cfg.RefineModel, "merges.txt"))
	if err != nil {
		return nil, err
	}

	tok, err := loadBPE(vocabPath, mergesPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	opts, device, err := sessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(decPath,
		[]string{"input_ids", "attention_mask"}, []string{"logits"}, opts)
	if err != nil {
		return nil, fmt.Errorf("create decoder session: %w", err)
	}

	slog.Info("Refinement model loaded",
		slog.String("model", cfg.RefineModel), slog.String("device", device))
	return &Refiner{
		session:     session,
		tok:         tok,
		device:      device,
		temperature: cfg.RefineTemperature,
		maxNew:      cfg.RefineMaxTokens,
		eosID:       tok.eosID,
	}, nil
}

func (r *Refiner) Device() string {
	return r.device
}

func (r *Refiner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Destroy()
}

// Generate continues the prompt by up to the configured extra-token budget
// and returns the full decoded sequence, prompt text included.
func (r *Refiner) Generate(ctx context.Context, prompt string) (string, error) {
	ids := r.tok.Encode(prompt)
	if len(ids) == 0 {
		return "", fmt.Errorf("prompt encoded to zero tokens")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.maxNew; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		logits, err := r.step(ids)
		if err != nil {
			return "", err
		}
		next := r.sample(logits)
		ids = append(ids, next)
		if next == r.eosID {
			break
		}
	}
	return r.tok.Decode(ids, true), nil
}

func (r *Refiner) step(ids []int64) ([]float32, error) {
	n := int64(len(ids))
	mask := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}

	inputT, err := ort.NewTensor(ort.NewShape(1, n), ids)
	if err != nil {
		return nil, err
	}
	defer inputT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(1, n), mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	outputs := []ort.Value{nil}
	if err := r.session.Run([]ort.Value{inputT, maskT}, outputs); err != nil {
		return nil, fmt.Errorf("run decoder: %w", err)
	}
	logitsT := outputs[0].(*ort.Tensor[float32])
	defer logitsT.Destroy()

	shape := logitsT.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected decoder output shape %v", shape)
	}
	vocabSize := int(shape[2])
	data := logitsT.GetData()

	last := make([]float32, vocabSize)
	copy(last, data[(int(n)-1)*vocabSize:])
	return last, nil
}

// sample draws the next token from the temperature-scaled distribution,
// degrading to argmax when the temperature is not positive.
func (r *Refiner) sample(logits []float32) int64 {
	if r.temperature <= 0 {
		best := 0
		for i, v := range logits {
			if v > logits[best] {
				best = i
			}
		}
		return int64(best)
	}

	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	probs := make([]float64, len(logits))
	var total float64
	for i, v := range logits {
		p := math.Exp(float64(v-maxV) / r.temperature)
		probs[i] = p
		total += p
	}

	draw := rand.Float64() * total
	for i, p := range probs {
		draw -= p
		if draw <= 0 {
			return int64(i)
		}
	}
	return int64(len(logits) - 1)
}
