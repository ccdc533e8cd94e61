// Package chunk splits page text into overlapping token windows for
// embedding.
package chunk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Defaults used by index builds.
const (
	DefaultEncoding = "cl100k_base"
	DefaultSize     = 1000
	DefaultOverlap  = 200
)

var loaderOnce sync.Once

// Chunker cuts text into windows of Size tokens that share Overlap tokens
// with their predecessor.
type Chunker struct {
	enc     *tiktoken.Tiktoken
	size    int
	overlap int
}

// New loads the named encoding from the embedded BPE files. Size and overlap
// fall back to the defaults when zero.
func New(encoding string, size, overlap int) (*Chunker, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if size == 0 {
		size = DefaultSize
	}
	if overlap == 0 {
		overlap = DefaultOverlap
	}
	if size < 0 || overlap < 0 {
		return nil, errors.New("chunk size and overlap must be positive")
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than size %d", overlap, size)
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Chunker{enc: enc, size: size, overlap: overlap}, nil
}

// Split returns the chunks of text in order. Empty text yields none.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	tokens := c.enc.Encode(text, nil, nil)
	return windows(tokens, c.size, c.overlap, c.enc.Decode)
}

// Count returns the number of tokens in text.
func (c *Chunker) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func windows(tokens []int, size, overlap int, decode func([]int) string) []string {
	var chunks []string
	step := size - overlap
	for i := 0; i < len(tokens); i += step {
		end := min(i+size, len(tokens))
		chunks = append(chunks, decode(tokens[i:end]))
		if i+size >= len(tokens) {
			break
		}
	}
	return chunks
}
