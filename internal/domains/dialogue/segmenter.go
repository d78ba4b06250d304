package dialogue

import (
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/engine"
)

const (
	minSentenceRunes   = 5
	contextWindowRunes = 20
)

// Sentence is one segmented unit of a streamed reply, ready for synthesis.
type Sentence struct {
	Text    string
	IsFirst bool
	IsLast  bool
}

// StreamingTurn holds the per-turn segmentation state: the sentence being
// assembled, a trailing context window for the decimal guard, and the
// collected deltas for attribution. One value per pipeline invocation,
// discarded when the turn completes.
type StreamingTurn struct {
	buf     []rune
	window  []rune
	emitted int
	final   bool

	full   strings.Builder
	deltas []engine.Delta
	usage  *engine.Usage

	firstResponseAt time.Time
	firstSpeechAt   time.Time
}

func NewStreamingTurn() *StreamingTurn {
	return &StreamingTurn{}
}

// Feed consumes one streamed token and returns any sentences it completed,
// in arrival order.
func (t *StreamingTurn) Feed(token string) []Sentence {
	if token == "" {
		return nil
	}
	if t.firstResponseAt.IsZero() {
		t.firstResponseAt = time.Now()
	}
	t.full.WriteString(token)

	var out []Sentence
	for _, r := range token {
		t.buf = append(t.buf, r)
		t.window = append(t.window, r)
		if len(t.window) > contextWindowRunes {
			t.window = t.window[len(t.window)-contextWindowRunes:]
		}
		if s, ok := t.boundary(r); ok {
			out = append(out, s)
		}
	}
	return out
}

// Collect remembers a raw delta for later tool attribution.
func (t *StreamingTurn) Collect(d engine.Delta) {
	t.deltas = append(t.deltas, d)
	if d.Usage != nil {
		t.usage = d.Usage
	}
}

// boundary applies the per-rune flush rules, first match wins.
func (t *StreamingTurn) boundary(r rune) (Sentence, bool) {
	switch {
	case r == '\n':
		if len(t.buf) >= minSentenceRunes {
			return t.flush(false)
		}
	case isStrongMark(r):
		if r == '.' && inDecimalContext(t.window) {
			return Sentence{}, false
		}
		if len(t.buf) >= minSentenceRunes {
			return t.flush(false)
		}
	case isPauseMark(r), isSpecialMark(r), isEmoji(r):
		if len(t.buf) >= minSentenceRunes {
			return t.flush(false)
		}
	default:
		if len(t.buf) >= minSentenceRunes && hasKaomoji(string(t.buf)) {
			return t.flush(false)
		}
	}
	return Sentence{}, false
}

// flush trims and strips the current buffer. Eager flushes (isLast=false)
// are suppressed when too little real content remains, in which case the
// buffer keeps accumulating; the terminal flush always emits.
func (t *StreamingTurn) flush(last bool) (Sentence, bool) {
	text := strings.TrimSpace(stripKaomoji(string(t.buf)))
	if !last && !substantial(text) {
		return Sentence{}, false
	}
	s := Sentence{Text: text, IsFirst: t.emitted == 0, IsLast: last}
	t.emitted++
	t.buf = t.buf[:0]
	if last {
		t.final = true
	}
	if t.firstSpeechAt.IsZero() {
		t.firstSpeechAt = time.Now()
	}
	return s, true
}

// Complete closes out the turn. A non-empty buffer is delivered as the final
// sentence no matter how short; otherwise, if anything was emitted, an empty
// terminal marker tells delivery the turn is over. Exactly one sentence with
// IsLast=true leaves a turn that produced any output.
func (t *StreamingTurn) Complete() []Sentence {
	if len(t.buf) > 0 {
		s, _ := t.flush(true)
		return []Sentence{s}
	}
	if t.emitted > 0 && !t.final {
		t.final = true
		return []Sentence{{Text: "", IsFirst: false, IsLast: true}}
	}
	return nil
}

func (t *StreamingTurn) FullText() string { return t.full.String() }

func (t *StreamingTurn) Deltas() []engine.Delta { return t.deltas }

func (t *StreamingTurn) Usage() *engine.Usage { return t.usage }

func (t *StreamingTurn) FirstResponseAt() time.Time { return t.firstResponseAt }

func (t *StreamingTurn) FirstSpeechAt() time.Time { return t.firstSpeechAt }
