package dialogue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *StreamingTurn, tokens ...string) []Sentence {
	var out []Sentence
	for _, tok := range tokens {
		out = append(out, t.Feed(tok)...)
	}
	return out
}

func TestSegmenterFlushOnStrongMark(t *testing.T) {
	turn := NewStreamingTurn()

	got := feedAll(turn, "你好", "，", "世界", "。")
	require.Len(t, got, 1)
	assert.Equal(t, Sentence{Text: "你好，世界。", IsFirst: true, IsLast: false}, got[0])

	final := turn.Complete()
	require.Len(t, final, 1)
	assert.Equal(t, Sentence{Text: "", IsFirst: false, IsLast: true}, final[0])
}

func TestSegmenterShortPauseKeepsBuffering(t *testing.T) {
	turn := NewStreamingTurn()
	// "你好，" is below the minimum sentence length at the comma
	assert.Empty(t, turn.Feed("你好，"))
}

func TestSegmenterDecimalPeriodIsNotBoundary(t *testing.T) {
	turn := NewStreamingTurn()
	got := feedAll(turn, "3", ".", "1", "4")
	assert.Empty(t, got)

	final := turn.Complete()
	require.Len(t, final, 1)
	assert.Equal(t, Sentence{Text: "3.14", IsFirst: true, IsLast: true}, final[0])
}

func TestSegmenterDecimalInsideLongSentence(t *testing.T) {
	turn := NewStreamingTurn()
	got := feedAll(turn, "圆周率大约是3", ".", "14", "，很有名。")

	// the period after "3" must not split, the comma flushes, the short
	// tail rides out to completion
	require.Len(t, got, 1)
	assert.Equal(t, "圆周率大约是3.14，", got[0].Text)
	assert.True(t, got[0].IsFirst)
	assert.False(t, got[0].IsLast)

	final := turn.Complete()
	require.Len(t, final, 1)
	assert.Equal(t, Sentence{Text: "很有名。", IsFirst: false, IsLast: true}, final[0])
}

func TestSegmenterShortTurnEmitsSingleFinal(t *testing.T) {
	turn := NewStreamingTurn()
	assert.Empty(t, turn.Feed("好的。"))

	final := turn.Complete()
	require.Len(t, final, 1)
	assert.Equal(t, Sentence{Text: "好的。", IsFirst: true, IsLast: true}, final[0])

	// completion is terminal; calling again yields nothing
	assert.Empty(t, turn.Complete())
}

func TestSegmenterNewlineFlush(t *testing.T) {
	turn := NewStreamingTurn()
	got := turn.Feed("第一行内容很长\n")
	require.Len(t, got, 1)
	assert.Equal(t, "第一行内容很长", got[0].Text)

	short := NewStreamingTurn()
	assert.Empty(t, short.Feed("你好\n"), "short line keeps buffering")
}

func TestSegmenterKaomojiFlushAndStrip(t *testing.T) {
	turn := NewStreamingTurn()
	got := turn.Feed("这个表情很可爱(^_^)")
	require.Len(t, got, 1)
	assert.Equal(t, "这个表情很可爱", got[0].Text)
}

func TestSegmenterEmojiFlush(t *testing.T) {
	turn := NewStreamingTurn()
	got := turn.Feed("今天天气很好😀")
	require.Len(t, got, 1)
	assert.Equal(t, "今天天气很好😀", got[0].Text)
}

func TestSegmenterSuppressesInsubstantialFlush(t *testing.T) {
	turn := NewStreamingTurn()
	// pure punctuation never goes out as a spoken sentence
	assert.Empty(t, feedAll(turn, "！", "！", "！", "！", "！", "，"))

	got := turn.Feed("现在可以了。")
	require.Len(t, got, 1)
	assert.Equal(t, "！！！！！，现在可以了。", got[0].Text)
	assert.True(t, got[0].IsFirst)
}

func TestSegmenterExactlyOneLastPerTurn(t *testing.T) {
	streams := [][]string{
		{"你好，世界。"},
		{"好的。"},
		{"第一句话说完了。", "第二句话也说完了。"},
		{"3", ".", "14"},
		{"没有任何标点的长长的结尾"},
	}
	for _, tokens := range streams {
		turn := NewStreamingTurn()
		all := feedAll(turn, tokens...)
		all = append(all, turn.Complete()...)

		lasts := 0
		for _, s := range all {
			if s.IsLast {
				lasts++
			}
		}
		assert.Equal(t, 1, lasts, "stream %v", tokens)
	}
}

func TestSegmenterConcatenationMatchesFullText(t *testing.T) {
	tokens := []string{"今天的天气非常好。", "我们", "出去", "走走吧，", "怎么样？", "好啊"}
	turn := NewStreamingTurn()
	all := feedAll(turn, tokens...)
	all = append(all, turn.Complete()...)

	var parts []string
	for _, s := range all {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	assert.Equal(t, strings.Join(tokens, ""), strings.Join(parts, ""))
	assert.Equal(t, strings.Join(tokens, ""), turn.FullText())
}

func TestSegmenterIsFirstOnlyOnce(t *testing.T) {
	turn := NewStreamingTurn()
	all := feedAll(turn, "第一句话在这里。", "第二句话在这里。", "第三句话在这里。")
	all = append(all, turn.Complete()...)

	require.GreaterOrEqual(t, len(all), 3)
	assert.True(t, all[0].IsFirst)
	for _, s := range all[1:] {
		assert.False(t, s.IsFirst)
	}
}
