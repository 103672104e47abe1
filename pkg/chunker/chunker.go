// Package chunker splits parsed text into ordered pieces for embedding.
// Chunkers are versioned: the same input under the same (name, version)
// always yields the same pieces in the same order, which downstream code
// relies on to derive stable chunk identities.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
	StrategySentence  = "sentence"
)

type Chunker interface {
	// Name identifies the splitting strategy.
	Name() string
	// Version changes whenever the strategy's output for a given input
	// could change.
	Version() string
	Chunk(text string) []TextChunk
}

type Options struct {
	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // overlap between consecutive chunks, fixed strategy only
	Version      string
}

type TextChunk struct {
	Content string
	Index   int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Version:      "1",
	}
}

// New returns the chunker for the named strategy. The strategy set is
// closed; an unknown name is a configuration error.
func New(strategy string, opts Options) (Chunker, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.Version == "" {
		opts.Version = "1"
	}
	switch strategy {
	case StrategyFixed:
		return &fixedChunker{opts: opts}, nil
	case StrategyRecursive:
		return &recursiveChunker{opts: opts}, nil
	case StrategySentence:
		return &sentenceChunker{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}

type fixedChunker struct {
	opts Options
}

func (c *fixedChunker) Name() string    { return StrategyFixed }
func (c *fixedChunker) Version() string { return c.opts.Version }

func (c *fixedChunker) Chunk(text string) []TextChunk {
	var chunks []TextChunk
	runes := []rune(text)
	idx := 0

	for start := 0; start < len(runes); {
		end := start + c.opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		content := string(runes[start:end])
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, TextChunk{Content: content, Index: idx})
			idx++
		}

		step := c.opts.ChunkSize - c.opts.ChunkOverlap
		if step <= 0 {
			step = c.opts.ChunkSize
		}
		start += step
	}
	return chunks
}

type recursiveChunker struct {
	opts Options
}

func (c *recursiveChunker) Name() string    { return StrategyRecursive }
func (c *recursiveChunker) Version() string { return c.opts.Version }

func (c *recursiveChunker) Chunk(text string) []TextChunk {
	separators := []string{"\n\n", "\n", ". ", " "}

	var chunks []TextChunk
	idx := 0
	for _, part := range splitRecursive(text, separators, c.opts.ChunkSize) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chunks = append(chunks, TextChunk{Content: part, Index: idx})
		idx++
	}
	return chunks
}

func splitRecursive(text string, separators []string, chunkSize int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}

	if len(separators) == 0 {
		var result []string
		runes := []rune(text)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			result = append(result, string(runes[i:end]))
		}
		return result
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	var result []string
	var current strings.Builder

	for _, part := range parts {
		if current.Len() > 0 && utf8.RuneCountInString(current.String()+sep+part) > chunkSize {
			result = append(result, splitRecursive(current.String(), separators[1:], chunkSize)...)
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(part)
	}

	if current.Len() > 0 {
		result = append(result, splitRecursive(current.String(), separators[1:], chunkSize)...)
	}
	return result
}

type sentenceChunker struct {
	opts Options
}

func (c *sentenceChunker) Name() string    { return StrategySentence }
func (c *sentenceChunker) Version() string { return c.opts.Version }

func (c *sentenceChunker) Chunk(text string) []TextChunk {
	sentences := splitSentences(text)

	var chunks []TextChunk
	var current strings.Builder
	idx := 0

	for _, s := range sentences {
		if current.Len() > 0 && utf8.RuneCountInString(current.String()+s) > c.opts.ChunkSize {
			chunks = append(chunks, TextChunk{
				Content: strings.TrimSpace(current.String()),
				Index:   idx,
			})
			idx++
			current.Reset()
		}
		current.WriteString(s)
	}

	if content := strings.TrimSpace(current.String()); content != "" {
		chunks = append(chunks, TextChunk{Content: content, Index: idx})
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
