package splitter

import (
	"strings"
	"unicode/utf8"
)

type SplitterConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Splitter cuts text into overlapping chunks. It prefers breaking on blank
// lines, then line breaks, then spaces, and only cuts mid-word when a run of
// text has no separator at all. Splitting is deterministic: the same input
// always yields the same chunk sequence.
type Splitter struct {
	config SplitterConfig
}

// separators are tried in order, coarsest first. The empty separator means a
// hard cut at the size limit.
var separators = []string{"\n\n", "\n", " "}

func NewWithConfig(config SplitterConfig) Splitter {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Splitter{config: config}
}

// Split returns the chunk sequence for text. Empty input yields nil; input
// no longer than the chunk size yields a single chunk with no overlap.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= s.config.ChunkSize {
		return []string{text}
	}

	pieces := s.cut(text, separators)
	return s.assemble(pieces)
}

// cut recursively breaks text into pieces no longer than the chunk size,
// preferring the coarsest separator that still occurs in the text.
func (s *Splitter) cut(text string, seps []string) []string {
	if len(text) <= s.config.ChunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return s.hardCut(text)
	}

	pieces := strings.SplitAfter(text, seps[0])
	if len(pieces) == 1 {
		return s.cut(text, seps[1:])
	}

	var out []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if len(piece) <= s.config.ChunkSize {
			out = append(out, piece)
		} else {
			out = append(out, s.cut(piece, seps[1:])...)
		}
	}
	return out
}

// hardCut slices text that contains no separator into windows of at most the
// chunk size, backing off so a multibyte rune is never split across windows.
func (s *Splitter) hardCut(text string) []string {
	var out []string
	for len(text) > s.config.ChunkSize {
		i := s.config.ChunkSize
		for i > 0 && !utf8.RuneStart(text[i]) {
			i--
		}
		if i == 0 {
			i = s.config.ChunkSize
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// assemble merges consecutive pieces into chunks up to the size limit. Each
// chunk after the first is seeded with the tail of the previous chunk so
// context carries across the boundary; the seed is dropped when it would push
// the chunk past the limit.
func (s *Splitter) assemble(pieces []string) []string {
	var chunks []string
	var cur strings.Builder

	for _, piece := range pieces {
		if cur.Len() > 0 && cur.Len()+len(piece) > s.config.ChunkSize {
			chunk := cur.String()
			chunks = append(chunks, chunk)
			cur.Reset()

			tail := overlapTail(chunk, s.config.ChunkOverlap)
			if len(tail)+len(piece) <= s.config.ChunkSize {
				cur.WriteString(tail)
			}
		}
		cur.WriteString(piece)
	}

	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func overlapTail(chunk string, overlap int) string {
	if len(chunk) <= overlap {
		return chunk
	}
	i := len(chunk) - overlap
	for i < len(chunk) && !utf8.RuneStart(chunk[i]) {
		i++
	}
	return chunk[i:]
}
