package model

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"log/slog"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/alttext/config"
)

const (
	captionMaxLength = 50
	captionBeamWidth = 6
)

// Text decoder special token ids: the BERT vocabulary plus the appended
// decoder BOS token the caption model generates from.
const (
	capPadID  int64 = 0
	capUnkID  int64 = 100
	capClsID  int64 = 101
	capSepID  int64 = 102
	capMaskID int64 = 103
	capBosID  int64 = 30522
)

// Captioner runs a vision encoder and a text decoder exported to ONNX,
// producing a natural-language description of an image.
type Captioner struct {
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
	vocab   []string
	device  string

	mu sync.Mutex // a session runs one inference at a time
}

func LoadCaptioner(ctx context.Context, cfg config.Config) (*Captioner, error) {
	dir := filepath.Join(cfg.ModelDir, filepath.Base(cfg.CaptionModel))

	encPath, err := fetchIfMissing(ctx, dir, "onnx/encoder_model.onnx",
		hubFileURL(cfg.HubBaseUrl, cfg.CaptionModel, "onnx/encoder_model.onnx"))
	if err != nil {
		return nil, err
	}
	decPath, err := fetchIfMissing(ctx, dir, "onnx/decoder_model.onnx",
		hubFileURL(cfg.HubBaseUrl, cfg.CaptionModel, "onnx/decoder_model.onnx"))
	if err != nil {
		return nil, err
	}
	vocabPath, err := fetchIfMissing(ctx, dir, "vocab.txt",
		hubFileURL(cfg.HubBaseUrl, cfg.CaptionModel, "vocab.txt"))
	if err != nil {
		return nil, err
	}

	vocab, err := loadWordVocab(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}

	opts, device, err := sessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	encoder, err := ort.NewDynamicAdvancedSession(encPath,
		[]string{"pixel_values"}, []string{"last_hidden_state"}, opts)
	if err != nil {
		return nil, fmt.Errorf("create encoder session: %w", err)
	}
	decoder, err := ort.NewDynamicAdvancedSession(decPath,
		[]string{"input_ids", "attention_mask", "encoder_hidden_states", "encoder_attention_mask"},
		[]string{"logits"}, opts)
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("create decoder session: %w", err)
	}

	slog.Info("Captioning model loaded",
		slog.String("model", cfg.CaptionModel), slog.String("device", device))
	return &Captioner{
		encoder: encoder,
		decoder: decoder,
		vocab:   vocab,
		device:  device,
	}, nil
}

func (c *Captioner) Device() string {
	return c.device
}

func (c *Captioner) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoder.Destroy()
	c.decoder.Destroy()
}

// Caption decodes the image bytes and generates a description with beam
// search (fixed width, early stopping, capped length).
func (c *Captioner) Caption(ctx context.Context, data []byte) (string, error) {
	img, err := decodeImage(data)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	pixels := pixelValues(img)

	c.mu.Lock()
	defer c.mu.Unlock()

	encData, encSeq, hidden, err := c.encode(pixels)
	if err != nil {
		return "", err
	}
	ids, err := c.beamSearch(ctx, encData, encSeq, hidden)
	if err != nil {
		return "", err
	}
	return decodeWordpiece(c.vocab, ids, capSpecial), nil
}

func capSpecial(id int64) bool {
	switch id {
	case capPadID, capUnkID, capClsID, capSepID, capMaskID, capBosID:
		return true
	}
	return false
}

func (c *Captioner) encode(pixels []float32) ([]float32, int64, int64, error) {
	input, err := ort.NewTensor(ort.NewShape(1, 3, captionImageSize, captionImageSize), pixels)
	if err != nil {
		return nil, 0, 0, err
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := c.encoder.Run([]ort.Value{input}, outputs); err != nil {
		return nil, 0, 0, fmt.Errorf("run encoder: %w", err)
	}
	hiddenT := outputs[0].(*ort.Tensor[float32])
	defer hiddenT.Destroy()

	shape := hiddenT.GetShape()
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("unexpected encoder output shape %v", shape)
	}
	data := make([]float32, len(hiddenT.GetData()))
	copy(data, hiddenT.GetData())
	return data, shape[1], shape[2], nil
}

type beamHyp struct {
	ids   []int64
	score float64
}

// normScore length-normalizes the cumulative log-probability so longer
// finished hypotheses are comparable with shorter ones.
func (h beamHyp) normScore() float64 {
	return h.score / float64(len(h.ids))
}

func (c *Captioner) beamSearch(ctx context.Context, encData []float32, encSeq, hidden int64) ([]int64, error) {
	live := []beamHyp{{ids: []int64{capBosID}}}
	var done []beamHyp

	for len(live) > 0 && len(done) < captionBeamWidth && len(live[0].ids) < captionMaxLength {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logProbs, vocabSize, err := c.decodeStep(live, encData, encSeq, hidden)
		if err != nil {
			return nil, err
		}

		type candidate struct {
			beam  int
			tok   int64
			score float64
		}
		var cands []candidate
		for i := range live {
			row := logProbs[i*vocabSize : (i+1)*vocabSize]
			for _, tok := range topK(row, 2*captionBeamWidth) {
				cands = append(cands, candidate{i, tok, live[i].score + float64(row[tok])})
			}
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].score > cands[b].score })

		var next []beamHyp
		for _, cd := range cands {
			ids := append(append([]int64(nil), live[cd.beam].ids...), cd.tok)
			hyp := beamHyp{ids: ids, score: cd.score}
			if cd.tok == capSepID {
				if len(done) < captionBeamWidth {
					done = append(done, hyp)
				}
				continue
			}
			next = append(next, hyp)
			if len(next) == captionBeamWidth {
				break
			}
		}
		live = next
	}

	best, ok := bestHyp(done)
	if !ok {
		best, ok = bestHyp(live)
	}
	if !ok {
		return nil, fmt.Errorf("beam search produced no hypothesis")
	}
	return best.ids, nil
}

func bestHyp(hyps []beamHyp) (beamHyp, bool) {
	if len(hyps) == 0 {
		return beamHyp{}, false
	}
	best := hyps[0]
	for _, h := range hyps[1:] {
		if h.normScore() > best.normScore() {
			best = h
		}
	}
	return best, true
}

// decodeStep runs the decoder over every live beam in one batch and
// returns flattened next-token log-probabilities, one row per beam.
func (c *Captioner) decodeStep(live []beamHyp, encData []float32, encSeq, hidden int64) ([]float32, int, error) {
	n := int64(len(live))
	curLen := int64(len(live[0].ids))

	inputIDs := make([]int64, n*curLen)
	mask := make([]int64, n*curLen)
	for i, b := range live {
		copy(inputIDs[int64(i)*curLen:], b.ids)
	}
	for i := range mask {
		mask[i] = 1
	}

	encTiled := make([]float32, n*encSeq*hidden)
	for i := int64(0); i < n; i++ {
		copy(encTiled[i*encSeq*hidden:], encData)
	}
	encMask := make([]int64, n*encSeq)
	for i := range encMask {
		encMask[i] = 1
	}

	inputT, err := ort.NewTensor(ort.NewShape(n, curLen), inputIDs)
	if err != nil {
		return nil, 0, err
	}
	defer inputT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(n, curLen), mask)
	if err != nil {
		return nil, 0, err
	}
	defer maskT.Destroy()
	encT, err := ort.NewTensor(ort.NewShape(n, encSeq, hidden), encTiled)
	if err != nil {
		return nil, 0, err
	}
	defer encT.Destroy()
	encMaskT, err := ort.NewTensor(ort.NewShape(n, encSeq), encMask)
	if err != nil {
		return nil, 0, err
	}
	defer encMaskT.Destroy()

	outputs := []ort.Value{nil}
	if err := c.decoder.Run([]ort.Value{inputT, maskT, encT, encMaskT}, outputs); err != nil {
		return nil, 0, fmt.Errorf("run decoder: %w", err)
	}
	logitsT := outputs[0].(*ort.Tensor[float32])
	defer logitsT.Destroy()

	shape := logitsT.GetShape()
	if len(shape) != 3 {
		return nil, 0, fmt.Errorf("unexpected decoder output shape %v", shape)
	}
	vocabSize := int(shape[2])
	logits := logitsT.GetData()

	out := make([]float32, int(n)*vocabSize)
	for i := 0; i < int(n); i++ {
		lastStep := (i*int(curLen) + int(curLen) - 1) * vocabSize
		copy(out[i*vocabSize:(i+1)*vocabSize], logits[lastStep:lastStep+vocabSize])
		logSoftmaxInPlace(out[i*vocabSize : (i+1)*vocabSize])
	}
	return out, vocabSize, nil
}

func logSoftmaxInPlace(row []float32) {
	maxV := row[0]
	for _, v := range row[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxV))
	}
	logSum := float32(math.Log(sum))
	for i, v := range row {
		row[i] = v - maxV - logSum
	}
}

// topK returns the indices of the k largest values in row.
func topK(row []float32, k int) []int64 {
	if k > len(row) {
		k = len(row)
	}
	idx := make([]int64, 0, k)
	for i, v := range row {
		pos := len(idx)
		for pos > 0 && v > row[idx[pos-1]] {
			pos--
		}
		if pos < k {
			if len(idx) < k {
				idx = append(idx, 0)
			}
			copy(idx[pos+1:], idx[pos:len(idx)-1])
			idx[pos] = int64(i)
		}
	}
	return idx
}
