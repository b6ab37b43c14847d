package model

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const bpeEndOfText = "<|endoftext|>"

// bpeTokenizer is a byte-level BPE tokenizer of the GPT-2 family, built
// from the hub's vocab.json and merges.txt.
type bpeTokenizer struct {
	encoder map[string]int64
	decoder map[int64]string
	ranks   map[string]int
	byteEnc [256]rune
	byteDec map[rune]byte
	eosID   int64
}

// Pre-tokenization pattern. The canonical GPT-2 pattern has a `\s+(?!\S)`
// alternative that RE2 cannot express, so it collapses into plain `\s+`;
// the difference only shows on runs of multiple spaces before a word.
var bpeSplit = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

// bytesToUnicode is the reversible byte-to-printable-rune mapping used by
// byte-level BPE vocabularies.
func bytesToUnicode() ([256]rune, map[rune]byte) {
	var enc [256]rune
	dec := make(map[rune]byte, 256)
	n := 0
	for b := 0; b < 256; b++ {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		r := rune(b)
		if !printable {
			r = rune(256 + n)
			n++
		}
		enc[b] = r
		dec[r] = byte(b)
	}
	return enc, dec
}

func loadBPE(vocabPath, mergesPath string) (*bpeTokenizer, error) {
	raw, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, err
	}
	encoder := make(map[string]int64)
	if err := json.Unmarshal(raw, &encoder); err != nil {
		return nil, fmt.Errorf("parse vocab: %w", err)
	}
	decoder := make(map[int64]string, len(encoder))
	for tok, id := range encoder {
		decoder[id] = tok
	}

	mergesRaw, err := os.ReadFile(mergesPath)
	if err != nil {
		return nil, err
	}
	ranks := make(map[string]int)
	rank := 0
	for _, line := range strings.Split(string(mergesRaw), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed merge rule %q", line)
		}
		ranks[line] = rank
		rank++
	}

	eosID, ok := encoder[bpeEndOfText]
	if !ok {
		return nil, fmt.Errorf("vocab has no %s token", bpeEndOfText)
	}

	t := &bpeTokenizer{
		encoder: encoder,
		decoder: decoder,
		ranks:   ranks,
		byteDec: make(map[rune]byte, 256),
		eosID:   eosID,
	}
	t.byteEnc, t.byteDec = bytesToUnicode()
	return t, nil
}

// bpe applies merge rules to one pre-token until no ranked pair remains.
func (t *bpeTokenizer) bpe(token string) []string {
	word := strings.Split(token, "")
	for len(word) > 1 {
		bestRank := -1
		var first, second string
		for i := 0; i < len(word)-1; i++ {
			if r, ok := t.ranks[word[i]+" "+word[i+1]]; ok && (bestRank == -1 || r < bestRank) {
				bestRank = r
				first, second = word[i], word[i+1]
			}
		}
		if bestRank == -1 {
			break
		}
		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); {
			if i < len(word)-1 && word[i] == first && word[i+1] == second {
				merged = append(merged, first+second)
				i += 2
			} else {
				merged = append(merged, word[i])
				i++
			}
		}
		word = merged
	}
	return word
}

func (t *bpeTokenizer) Encode(text string) []int64 {
	var ids []int64
	for _, piece := range bpeSplit.FindAllString(text, -1) {
		var sb strings.Builder
		for _, b := range []byte(piece) {
			sb.WriteRune(t.byteEnc[b])
		}
		for _, tok := range t.bpe(sb.String()) {
			if id, ok := t.encoder[tok]; ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (t *bpeTokenizer) Decode(ids []int64, skipSpecial bool) string {
	var sb strings.Builder
	for _, id := range ids {
		if skipSpecial && id == t.eosID {
			continue
		}
		sb.WriteString(t.decoder[id])
	}
	buf := make([]byte, 0, sb.Len())
	for _, r := range sb.String() {
		if b, ok := t.byteDec[r]; ok {
			buf = append(buf, b)
		}
	}
	return string(buf)
}
