package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one retrieval unit cut from a document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
	// Offset is the rune-accurate byte offset of the chunk start in the
	// source text, used to map PDF chunks back to a page.
	Offset int
}

// Chunker splits text into token-bounded chunks, preferring sentence
// boundaries. Chunks target `size` tokens with `slack` tokens of give
// on either side; consecutive chunks share roughly `overlap` tokens.
type Chunker struct {
	enc     *tiktoken.Tiktoken
	size    int
	overlap int
	slack   int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("invalid chunker bounds: size=%d overlap=%d", size, overlap)
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load cl100k_base encoding: %w", err)
	}

	return &Chunker{
		enc:     enc,
		size:    size,
		overlap: overlap,
		slack:   100,
	}, nil
}

// CountTokens returns the cl100k_base token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type sentence struct {
	text   string
	offset int
	tokens int
}

// Chunk splits text into chunks. Sentences are kept whole unless a
// single sentence overflows the hard ceiling, in which case it is split
// at token boundaries.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	ceiling := c.size + c.slack

	var sentences []sentence
	for _, s := range splitSentences(text) {
		n := c.CountTokens(s.text)
		if n <= ceiling {
			s.tokens = n
			sentences = append(sentences, s)
			continue
		}
		// Oversized sentence: hard split at token boundaries.
		for _, piece := range c.hardSplit(s.text) {
			sentences = append(sentences, sentence{
				text:   piece,
				offset: s.offset,
				tokens: c.CountTokens(piece),
			})
		}
	}

	var chunks []Chunk
	var current []sentence
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		var b strings.Builder
		for i, s := range current {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(s.text)
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       b.String(),
			TokenCount: currentTokens,
			Offset:     current[0].offset,
		})
	}

	for _, s := range sentences {
		if currentTokens > 0 && currentTokens+s.tokens > ceiling {
			flush()

			// Seed the next chunk with the tail of this one for overlap.
			tail, tailTokens := overlapTail(current, c.overlap)
			current = tail
			currentTokens = tailTokens
		}
		current = append(current, s)
		currentTokens += s.tokens
	}
	flush()

	return chunks, nil
}

// overlapTail picks trailing sentences totaling at most `budget` tokens.
func overlapTail(sentences []sentence, budget int) ([]sentence, int) {
	var tail []sentence
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		if total+sentences[i].tokens > budget {
			break
		}
		tail = append([]sentence{sentences[i]}, tail...)
		total += sentences[i].tokens
	}
	return tail, total
}

func (c *Chunker) hardSplit(text string) []string {
	tokens := c.enc.Encode(text, nil, nil)
	step := c.size - c.overlap

	var pieces []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		pieces = append(pieces, c.enc.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// splitSentences cuts text at sentence-ending punctuation followed by
// whitespace, and at newlines. Offsets index into the original text.
func splitSentences(text string) []sentence {
	var sentences []sentence
	start := 0

	flush := func(end int) {
		raw := text[start:end]
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			lead := strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsSpace(r) })
			sentences = append(sentences, sentence{text: trimmed, offset: start + lead})
		}
		start = end
	}

	runes := []rune(text)
	byteOff := 0
	prevEnder := false
	for _, r := range runes {
		w := len(string(r))
		switch {
		case r == '\n':
			flush(byteOff + w)
			prevEnder = false
		case prevEnder && unicode.IsSpace(r):
			flush(byteOff)
			prevEnder = false
		default:
			prevEnder = r == '.' || r == '!' || r == '?'
		}
		byteOff += w
	}
	flush(len(text))

	return sentences
}
