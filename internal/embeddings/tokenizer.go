package embeddings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Tokenizer is a BERT-style lowercase WordPiece tokenizer driven by a
// vocab.txt file (one token per line, line number is the id).
type Tokenizer struct {
	vocab     map[string]int32
	maxLength int
	unkID     int32
	clsID     int32
	sepID     int32
	padID     int32
}

// LoadTokenizer reads a vocabulary file
func LoadTokenizer(path string, maxLength int) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open vocab: %w", ErrTokenizationFailed, err)
	}
	defer f.Close()
	return NewTokenizer(f, maxLength)
}

// NewTokenizer reads a vocabulary from r
func NewTokenizer(r io.Reader, maxLength int) (*Tokenizer, error) {
	if maxLength <= 2 {
		maxLength = 128
	}

	vocab := make(map[string]int32)
	scanner := bufio.NewScanner(r)
	var id int32
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read vocab: %w", ErrTokenizationFailed, err)
	}

	t := &Tokenizer{vocab: vocab, maxLength: maxLength}
	for name, dst := range map[string]*int32{"[UNK]": &t.unkID, "[CLS]": &t.clsID, "[SEP]": &t.sepID, "[PAD]": &t.padID} {
		v, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("%w: vocab missing %s", ErrTokenizationFailed, name)
		}
		*dst = v
	}
	return t, nil
}

// Tokenize converts text to padded token ids
func (t *Tokenizer) Tokenize(text string) (*TokenizedInput, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: cannot tokenize empty text", ErrTokenizationFailed)
	}

	ids := []int32{t.clsID}
	truncated := false
	for _, word := range basicTokens(text) {
		pieces := t.wordPiece(word)
		if len(ids)+len(pieces) > t.maxLength-1 {
			truncated = true
			break
		}
		ids = append(ids, pieces...)
	}
	ids = append(ids, t.sepID)
	length := len(ids)

	mask := make([]int32, t.maxLength)
	for i := 0; i < length; i++ {
		mask[i] = 1
	}
	for len(ids) < t.maxLength {
		ids = append(ids, t.padID)
	}

	return &TokenizedInput{
		InputIDs:      ids,
		AttentionMask: mask,
		TokenTypeIDs:  make([]int32, t.maxLength),
		Length:        length,
		Truncated:     truncated,
	}, nil
}

// wordPiece splits one word greedily into the longest vocab pieces
func (t *Tokenizer) wordPiece(word string) []int32 {
	runes := []rune(word)
	var pieces []int32
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, id)
				found = true
				break
			}
			end--
		}
		if !found {
			return []int32{t.unkID}
		}
		start = end
	}
	return pieces
}

// basicTokens lowercases and splits on whitespace and punctuation
func basicTokens(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
