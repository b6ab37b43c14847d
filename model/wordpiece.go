package model

import (
	"os"
	"strings"
)

// loadWordVocab reads a WordPiece vocabulary, one token per line. Line
// number is the token id, so only trailing blank lines are dropped.
func loadWordVocab(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	vocab := make([]string, len(lines))
	for i, l := range lines {
		vocab[i] = strings.TrimRight(l, "\r")
	}
	return vocab, nil
}

// decodeWordpiece turns token ids back into text, rejoining "##" subword
// pieces and dropping special tokens.
func decodeWordpiece(vocab []string, ids []int64, isSpecial func(int64) bool) string {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(vocab) || isSpecial(id) {
			continue
		}
		tok := vocab[id]
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}
