package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWordVocabKeepsLineOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("[PAD]\na\ncat\n##s\n\n"), 0644))

	vocab, err := loadWordVocab(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"[PAD]", "a", "cat", "##s"}, vocab)
}

func TestDecodeWordpiece(t *testing.T) {
	vocab := []string{"[PAD]", "a", "cat", "##s", "sitting", "[SEP]"}
	isSpecial := func(id int64) bool { return id == 0 || id == 5 }

	got := decodeWordpiece(vocab, []int64{0, 1, 2, 3, 4, 5}, isSpecial)
	assert.Equal(t, "a cats sitting", got)
}

func TestDecodeWordpieceIgnoresOutOfRangeIDs(t *testing.T) {
	vocab := []string{"a", "cat"}
	got := decodeWordpiece(vocab, []int64{0, 99, -1, 1}, func(int64) bool { return false })
	assert.Equal(t, "a cat", got)
}
