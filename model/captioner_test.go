package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopK(t *testing.T) {
	row := []float32{0.1, 5, 3, 4, 2}
	assert.Equal(t, []int64{1, 3, 2}, topK(row, 3))
	assert.Equal(t, []int64{1, 3, 2, 4, 0}, topK(row, 10))
}

func TestLogSoftmaxUniform(t *testing.T) {
	row := []float32{1, 1, 1, 1}
	logSoftmaxInPlace(row)
	want := -float32(math.Log(4))
	for _, v := range row {
		assert.InDelta(t, want, v, 1e-5)
	}
}

func TestLogSoftmaxSumsToOne(t *testing.T) {
	row := []float32{3, -1, 0.5, 7, 2}
	logSoftmaxInPlace(row)
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v))
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestBestHypPrefersNormalizedScore(t *testing.T) {
	short := beamHyp{ids: []int64{1, 2}, score: -1}      // -0.5 per token
	long := beamHyp{ids: []int64{1, 2, 3, 4}, score: -1} // -0.25 per token

	best, ok := bestHyp([]beamHyp{short, long})
	assert.True(t, ok)
	assert.Equal(t, long.ids, best.ids)

	_, ok = bestHyp(nil)
	assert.False(t, ok)
}

func TestCapSpecialCoversDecoderTokens(t *testing.T) {
	for _, id := range []int64{capPadID, capUnkID, capClsID, capSepID, capMaskID, capBosID} {
		assert.True(t, capSpecial(id))
	}
	assert.False(t, capSpecial(1037)) // "a" in the BERT vocabulary
}
