package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docsim/core"
	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultMaxChunkSize is the default chunk size limit in characters.
const DefaultMaxChunkSize = 1000

// Piece is a chunk of text cut from a document, before it is stored.
type Piece struct {
	Text  string
	Lines core.LineRange
}

// Chunker splits text into pieces of at most maxChunkSize characters.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	maxChunkSize int
	lineSplitter textsplitter.TextSplitter
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxChunkSize sets the maximum chunk size in characters.
// Default is DefaultMaxChunkSize.
func WithMaxChunkSize(size int) Option {
	return func(c *Chunker) error {
		if size < 1 {
			return fmt.Errorf("%w: max chunk size must be positive, got %d", core.ErrChunking, size)
		}
		c.maxChunkSize = size
		return nil
	}
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{maxChunkSize: DefaultMaxChunkSize}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	// Only used for single lines, so paragraph and newline separators never apply.
	c.lineSplitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.maxChunkSize),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{" ", ""}),
	)
	return c, nil
}

// MaxChunkSize returns the configured size limit.
func (c *Chunker) MaxChunkSize() int {
	return c.maxChunkSize
}

// Chunk splits text into pieces. Empty or whitespace-only text yields no pieces.
func (c *Chunker) Chunk(text string) ([]Piece, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", core.ErrChunking)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := splitLines(text)
	b := &builder{lines: lines, max: c.maxChunkSize}

	for _, p := range paragraphs(lines) {
		if b.fits(b.start, p.last) {
			b.extend(p.last)
			continue
		}
		b.flushBefore(p.first)
		if b.fits(p.first, p.last) {
			b.extend(p.last)
			continue
		}

		// Paragraph too large: pack line by line.
		for i := p.first; i <= p.last; i++ {
			if b.fits(b.start, i) {
				b.extend(i)
				continue
			}
			b.flushBefore(i)
			if b.fits(i, i) {
				b.extend(i)
				continue
			}
			if err := b.cutLine(i, c.lineSplitter); err != nil {
				return nil, err
			}
		}
	}
	b.finish()

	return b.pieces, nil
}

// splitLines splits text into lines, dropping the empty line after a trailing newline.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type paragraph struct {
	first, last int // zero-based line indices
}

// paragraphs returns runs of non-blank lines.
func paragraphs(lines []string) []paragraph {
	var out []paragraph
	start := -1
	for i, line := range lines {
		blank := strings.TrimSpace(line) == ""
		switch {
		case !blank && start < 0:
			start = i
		case blank && start >= 0:
			out = append(out, paragraph{first: start, last: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, paragraph{first: start, last: len(lines) - 1})
	}
	return out
}

// builder accumulates lines into pieces. Lines from start to end (inclusive)
// belong to the open piece; hasContent is false while nothing but blank lines
// has been added.
type builder struct {
	lines      []string
	max        int
	pieces     []Piece
	start      int
	end        int
	hasContent bool
}

func (b *builder) text(from, to int) string {
	return strings.TrimSpace(strings.Join(b.lines[from:to+1], "\n"))
}

func (b *builder) fits(from, to int) bool {
	return utf8.RuneCountInString(b.text(from, to)) <= b.max
}

func (b *builder) extend(to int) {
	b.end = to
	b.hasContent = true
}

// flushBefore closes the open piece so that it ends just before line next.
func (b *builder) flushBefore(next int) {
	if !b.hasContent {
		return
	}
	b.emit(b.text(b.start, b.end), b.start, next-1)
	b.start = next
	b.hasContent = false
}

// cutLine splits a single over-long line. Every piece reports the line itself;
// the first piece also absorbs any blank lines before it.
func (b *builder) cutLine(i int, splitter textsplitter.TextSplitter) error {
	parts, err := splitter.SplitText(strings.TrimSpace(b.lines[i]))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrChunking, err)
	}
	for n, part := range parts {
		from := i
		if n == 0 {
			from = b.start
		}
		b.emit(part, from, i)
	}
	b.start = i + 1
	b.hasContent = false
	return nil
}

func (b *builder) emit(text string, from, to int) {
	b.pieces = append(b.pieces, Piece{
		Text:  text,
		Lines: core.LineRange{From: from + 1, To: to + 1},
	})
}

// finish flushes the open piece and stretches the last piece over trailing blank lines.
func (b *builder) finish() {
	last := len(b.lines) - 1
	if b.hasContent {
		b.emit(b.text(b.start, b.end), b.start, last)
		b.hasContent = false
		return
	}
	if n := len(b.pieces); n > 0 && b.pieces[n-1].Lines.To < last+1 {
		b.pieces[n-1].Lines.To = last + 1
	}
}
