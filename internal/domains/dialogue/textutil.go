package dialogue

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Candidate kaomoji: a short parenthesized run, either script's parentheses.
// Whether a match really is one is decided by looksKaomoji, so "(see below)"
// survives while (╯°□°）╯ does not.
var kaomojiRe = regexp.MustCompile(`[(（][^()（）]{0,12}[)）]`)

// Decimal guard for period boundaries. The trailing digits are optional
// because the check runs the moment the period arrives, before any fraction
// digits have streamed in.
var decimalRe = regexp.MustCompile(`[0-9]+\.[0-9]*`)

func isStrongMark(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isPauseMark(r rune) bool {
	switch r {
	case '，', '、', '；', ',', ';':
		return true
	}
	return false
}

func isSpecialMark(r rune) bool {
	switch r {
	case '：', ':', '"', '“', '”':
		return true
	}
	return false
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F9FF:
		return true
	case r >= 0x1FA00 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0xFE0F:
		return true
	}
	return false
}

func looksKaomoji(interior string) bool {
	if interior == "" {
		return false
	}
	total, symbols := 0, 0
	for _, r := range interior {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		symbols++
	}
	return symbols*2 >= total
}

func hasKaomoji(s string) bool {
	for _, m := range kaomojiRe.FindAllString(s, -1) {
		if looksKaomoji(trimKaomojiDelims(m)) {
			return true
		}
	}
	return false
}

func trimKaomojiDelims(m string) string {
	m = strings.TrimLeft(m, "(（")
	return strings.TrimRight(m, ")）")
}

func stripKaomoji(s string) string {
	return kaomojiRe.ReplaceAllStringFunc(s, func(m string) string {
		if looksKaomoji(trimKaomojiDelims(m)) {
			return ""
		}
		return m
	})
}

// substantial reports whether text keeps at least two runes that are neither
// punctuation, symbols, nor whitespace. Fragments like "，。" never reach the
// device as a spoken sentence.
func substantial(s string) bool {
	count := 0
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		count++
		if count >= 2 {
			return true
		}
	}
	return false
}

// inDecimalContext reports whether a decimal-number pattern ends within the
// trailing three runes of the context window.
func inDecimalContext(window []rune) bool {
	s := string(window)
	for _, loc := range decimalRe.FindAllStringIndex(s, -1) {
		end := utf8.RuneCountInString(s[:loc[1]])
		if len(window)-end <= 3 {
			return true
		}
	}
	return false
}
