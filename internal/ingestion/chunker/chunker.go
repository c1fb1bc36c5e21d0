package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultMinTokens = 80
	DefaultMaxTokens = 400
)

// Chunk is one embedding input cut from a document. Heading context is
// prefixed onto Text so a chunk stays meaningful on its own.
type Chunk struct {
	Index   int
	Page    int
	Heading string
	Text    string
	Tokens  int
}

type Options struct {
	MinTokens int
	MaxTokens int
}

func (o Options) normalized() Options {
	if o.MinTokens <= 0 {
		o.MinTokens = DefaultMinTokens
	}
	if o.MaxTokens <= o.MinTokens {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxTokens <= o.MinTokens {
		o.MaxTokens = o.MinTokens * 2
	}
	return o
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// ChunkText splits document text structurally: headings bound sections,
// paragraphs fill chunks up to the token ceiling, and an oversized
// paragraph falls back to sentence then rune splitting. Each chunk is
// prefixed with its heading path.
func ChunkText(text string, opts Options) []Chunk {
	opts = opts.normalized()
	return appendPageChunks(nil, text, 0, opts)
}

// ChunkPages chunks pre-extracted page texts, one page at a time, so a
// chunk never straddles a page boundary and keeps its page number.
func ChunkPages(pages []string, opts Options) []Chunk {
	opts = opts.normalized()
	var out []Chunk
	for i, page := range pages {
		out = appendPageChunks(out, page, i+1, opts)
	}
	return out
}

func appendPageChunks(out []Chunk, text string, page int, opts Options) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}

	// Heading path by level; deeper headings reset everything below.
	headings := make([]string, 0, 6)
	headingPath := func() string { return strings.Join(headings, " > ") }

	var (
		buf    []string
		tokens int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, buildChunk(len(out), page, headingPath(), strings.Join(buf, "\n\n")))
		buf = nil
		tokens = 0
	}

	for _, para := range splitParagraphs(text) {
		if m := headingRe.FindStringSubmatch(para); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level <= len(headings) {
				headings = headings[:level-1]
			}
			headings = append(headings, title)
			continue
		}

		cost := estimateTokens(para)
		if cost > opts.MaxTokens {
			flush()
			for _, piece := range splitOversized(para, opts.MaxTokens) {
				out = append(out, buildChunk(len(out), page, headingPath(), piece))
			}
			continue
		}

		if tokens+cost > opts.MaxTokens {
			flush()
		}
		buf = append(buf, para)
		tokens += cost
	}
	flush()

	// A trailing fragment below the floor reads better merged into its
	// predecessor than embedded alone.
	if n := len(out); n >= 2 &&
		out[n-1].Tokens < opts.MinTokens &&
		out[n-1].Page == out[n-2].Page &&
		out[n-1].Heading == out[n-2].Heading {
		merged := buildChunk(out[n-2].Index, out[n-2].Page, out[n-2].Heading,
			stripHeadingPrefix(out[n-2])+"\n\n"+stripHeadingPrefix(out[n-1]))
		if merged.Tokens <= opts.MaxTokens+opts.MinTokens {
			out = append(out[:n-2], merged)
		}
	}

	return out
}

func buildChunk(index, page int, heading, body string) Chunk {
	text := body
	if heading != "" {
		text = heading + "\n\n" + body
	}
	return Chunk{
		Index:   index,
		Page:    page,
		Heading: heading,
		Text:    text,
		Tokens:  estimateTokens(body),
	}
}

func stripHeadingPrefix(c Chunk) string {
	if c.Heading == "" {
		return c.Text
	}
	return strings.TrimPrefix(c.Text, c.Heading+"\n\n")
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range regexp.MustCompile(`\n\s*\n`).Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		// A heading glued to its paragraph still bounds a section.
		lines := strings.Split(block, "\n")
		var body []string
		for _, line := range lines {
			if headingRe.MatchString(strings.TrimSpace(line)) {
				if len(body) > 0 {
					out = append(out, strings.TrimSpace(strings.Join(body, "\n")))
					body = nil
				}
				out = append(out, strings.TrimSpace(line))
				continue
			}
			body = append(body, line)
		}
		if len(body) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(body, "\n")))
		}
	}
	return out
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)

// splitOversized breaks one paragraph that alone exceeds the ceiling:
// sentences first, rune windows when a single sentence is still too
// large.
func splitOversized(para string, maxTokens int) []string {
	var out []string
	var buf []string
	tokens := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, strings.TrimSpace(strings.Join(buf, "")))
		buf = nil
		tokens = 0
	}

	for _, sentence := range sentenceRe.FindAllString(para, -1) {
		cost := estimateTokens(sentence)
		if cost > maxTokens {
			flush()
			out = append(out, splitRunes(sentence, maxTokens*4)...)
			continue
		}
		if tokens+cost > maxTokens {
			flush()
		}
		buf = append(buf, sentence)
		tokens += cost
	}
	flush()
	return out
}

// splitRunes is the last-resort fixed-window splitter, working in runes
// so a UTF-8 sequence is never cut in half.
func splitRunes(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}
	r := []rune(text)
	out := make([]string, 0, (len(r)/size)+1)
	for start := 0; start < len(r); start += size {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		piece := strings.TrimSpace(string(r[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// One token per four bytes, matching the session budget heuristic.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
