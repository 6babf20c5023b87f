package transcription

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Cleanup normalizes a raw transcript: whitespace is collapsed, a standalone
// lower-case "i" (and its contractions) becomes "I", the first letter of the
// text and of every sentence is capitalized and terminal punctuation is
// appended when missing. Cleanup(Cleanup(s)) == Cleanup(s).
func Cleanup(raw string) string {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return ""
	}

	sentenceStart := true
	for i, w := range words {
		w = fixPronoun(w)
		if sentenceStart {
			w = capitalizeFirstLetter(w)
		}
		words[i] = w
		sentenceStart = endsSentence(w)
	}

	out := strings.Join(words, " ")
	if !endsSentence(out) {
		out += "."
	}
	return out
}

var pronounForms = map[string]bool{
	"i": true, "i'm": true, "i've": true, "i'll": true, "i'd": true,
	"i’m": true, "i’ve": true, "i’ll": true, "i’d": true,
}

func fixPronoun(w string) string {
	lead, core, trail := splitPunct(w)
	if !pronounForms[core] {
		return w
	}
	return lead + "I" + core[1:] + trail
}

// splitPunct separates leading opening punctuation and trailing punctuation
// from the word itself.
func splitPunct(w string) (lead, core, trail string) {
	start := strings.IndexFunc(w, func(r rune) bool { return !strings.ContainsRune(`"'(“‘[`, r) })
	if start < 0 {
		return w, "", ""
	}
	end := strings.LastIndexFunc(w, func(r rune) bool { return !strings.ContainsRune(`.,!?;:"')”’]`, r) })
	if end < start {
		return w[:start], "", w[start:]
	}
	_, size := utf8.DecodeRuneInString(w[end:])
	end += size
	return w[:start], w[start:end], w[end:]
}

func capitalizeFirstLetter(w string) string {
	for i, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsLower(r) {
				return w
			}
			return w[:i] + string(unicode.ToUpper(r)) + w[i+utf8.RuneLen(r):]
		}
		if unicode.IsDigit(r) {
			return w
		}
	}
	return w
}

// endsSentence reports whether s ends with . ! or ?, ignoring closing quotes
// and brackets.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, `"')]”’`)
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == '.' || r == '!' || r == '?' || r == '…'
}
