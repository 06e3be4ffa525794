package retrieval

import (
	"strings"
)

// Default chunking parameters (~400 tokens at ~4 chars/token).
const (
	DefaultChunkChars   = 1600
	DefaultOverlapChars = 320
)

// ChunkOptions control Split. Zero values select the defaults.
type ChunkOptions struct {
	Size    int // characters per chunk
	Overlap int // characters carried into the next chunk
}

// Piece is one chunk of a text with its 1-based line span.
type Piece struct {
	Content   string
	LineStart int
	LineEnd   int
}

// Split cuts text into overlapping pieces. Paragraphs are kept together
// while they fit; oversized paragraphs are split on sentence boundaries.
func Split(text string, opts ChunkOptions) []Piece {
	size := opts.Size
	if size <= 0 {
		size = DefaultChunkChars
	}
	overlap := opts.Overlap
	if overlap <= 0 {
		overlap = DefaultOverlapChars
	}
	if overlap >= size {
		overlap = size / 5
	}

	paragraphs := splitParagraphs(strings.Split(text, "\n"))

	var (
		pieces    []Piece
		buf       strings.Builder
		startLine int
		endLine   int
		fresh     bool // buf holds text beyond the carried overlap
	)
	emit := func() {
		pieces = append(pieces, Piece{
			Content:   buf.String(),
			LineStart: startLine + 1,
			LineEnd:   endLine + 1,
		})
		carry := overlapSuffix(buf.String(), overlap)
		buf.Reset()
		buf.WriteString(carry)
		fresh = false
	}

	for _, p := range paragraphs {
		if buf.Len() > 0 && buf.Len()+len(p.text) > size {
			emit()
			startLine = p.lineStart
		}
		if buf.Len() == 0 {
			startLine = p.lineStart
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p.text)
		endLine = p.lineEnd
		fresh = true

		if buf.Len() > size {
			sentences := splitSentences(buf.String())
			buf.Reset()
			for _, sent := range sentences {
				if buf.Len() > 0 && buf.Len()+len(sent) > size {
					emit()
				}
				if buf.Len() > 0 {
					buf.WriteString(" ")
				}
				buf.WriteString(sent)
				fresh = true
			}
		}
	}

	if fresh {
		pieces = append(pieces, Piece{
			Content:   buf.String(),
			LineStart: startLine + 1,
			LineEnd:   endLine + 1,
		})
	}
	return pieces
}

type paragraph struct {
	text      string
	lineStart int
	lineEnd   int
}

// splitParagraphs groups lines separated by blank lines into paragraphs.
func splitParagraphs(lines []string) []paragraph {
	var (
		paragraphs []paragraph
		current    strings.Builder
		startLine  int
		open       bool
	)
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			if open {
				paragraphs = append(paragraphs, paragraph{text: current.String(), lineStart: startLine, lineEnd: i - 1})
				current.Reset()
				open = false
			}
			continue
		}
		if !open {
			startLine = i
			open = true
		} else {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if open {
		paragraphs = append(paragraphs, paragraph{text: current.String(), lineStart: startLine, lineEnd: len(lines) - 1})
	}
	return paragraphs
}

// splitSentences splits text after '.', '!' or '?' followed by a space.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// overlapSuffix returns the last n bytes of s, moved forward to a rune
// boundary.
func overlapSuffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
