package clean

import (
	"strings"
	"unicode"
)

// DefaultBlocklist holds phrases that mark error pages, paywalls and bot
// walls rather than article text.
var DefaultBlocklist = []string{
	"access denied",
	"subscription required",
	"subscribe to continue reading",
	"page not found",
	"404 not found",
	"please enable javascript",
	"verify you are human",
	"are you a robot",
	"доступ запрещен",
	"страница не найдена",
	"оформите подписку",
}

// BlockHit is a blocklist phrase found in a text together with the sentence
// it occurred in.
type BlockHit struct {
	Phrase   string
	Sentence string
}

// Blocklist matches low-value phrases case-insensitively.
type Blocklist struct {
	phrases []string
	lower   []string
}

// NewBlocklist lowercases phrases once up front. Blank entries are ignored.
func NewBlocklist(phrases []string) *Blocklist {
	b := &Blocklist{
		phrases: make([]string, 0, len(phrases)),
		lower:   make([]string, 0, len(phrases)),
	}
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.phrases = append(b.phrases, p)
		b.lower = append(b.lower, strings.ToLower(p))
	}
	return b
}

// Len reports the number of active phrases.
func (b *Blocklist) Len() int {
	return len(b.phrases)
}

// Match returns the first phrase contained in text.
func (b *Blocklist) Match(text string) (BlockHit, bool) {
	if len(b.lower) == 0 || text == "" {
		return BlockHit{}, false
	}
	lowerText := strings.ToLower(text)
	for i, phrase := range b.lower {
		if !strings.Contains(lowerText, phrase) {
			continue
		}
		hit := BlockHit{Phrase: b.phrases[i]}
		for _, s := range splitSentences(text) {
			if strings.Contains(s.lower, phrase) {
				hit.Sentence = s.original
				break
			}
		}
		return hit, true
	}
	return BlockHit{}, false
}

type sentence struct {
	original string
	lower    string
}

// splitSentences splits on '.', '!' and '?', keeping the delimiter.
func splitSentences(text string) []sentence {
	if text == "" {
		return nil
	}

	// roughly one sentence per 50 bytes
	sentences := make([]sentence, 0, max(len(text)/50, 1))
	start := 0
	for i, r := range text {
		if i < start {
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(text) && unicode.IsSpace(rune(text[end])) {
			end++
		}
		if orig := strings.TrimSpace(text[start:end]); orig != "" {
			sentences = append(sentences, sentence{original: orig, lower: strings.ToLower(orig)})
		}
		start = end
	}
	if start < len(text) {
		if orig := strings.TrimSpace(text[start:]); orig != "" {
			sentences = append(sentences, sentence{original: orig, lower: strings.ToLower(orig)})
		}
	}
	return sentences
}
