package generator

import (
	"context"
	"regexp"
	"strings"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

// StopPhraseDetector finds explicit do-not-contact requests.
type StopPhraseDetector struct {
	phrases []string
}

func NewStopPhraseDetector(phrases []string) *StopPhraseDetector {
	d := &StopPhraseDetector{}
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			d.phrases = append(d.phrases, p)
		}
	}
	return d
}

var nonWord = regexp.MustCompile(`[^a-z0-9' ]+`)

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Match returns the first stop phrase found in text.
func (d *StopPhraseDetector) Match(text string) (string, bool) {
	norm := normalize(text)
	for _, p := range d.phrases {
		if containsPhrase(norm, p) {
			return p, true
		}
	}
	return "", false
}

// containsPhrase matches whole words only, so "call" does not match "recall".
func containsPhrase(norm, phrase string) bool {
	return strings.Contains(" "+norm+" ", " "+phrase+" ")
}

// KeywordClassifier is the offline classifier used with the template provider.
type KeywordClassifier struct {
	Stop *StopPhraseDetector
}

var _ Classifier = (*KeywordClassifier)(nil)

var (
	positiveCues = []string{"interested", "let's talk", "lets talk", "schedule", "book a", "call", "meeting", "demo", "pricing", "proposal", "sounds good", "tell me more"}
	negativeCues = []string{"not interested", "no thanks", "no thank you", "not a fit", "not a good fit", "we already have", "please stop", "not looking"}
)

func (k *KeywordClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	norm := normalize(text)
	if k.Stop != nil {
		if p, ok := k.Stop.Match(text); ok {
			return Classification{Sentiment: model.SentimentNegative, StopRequested: true, Reasoning: "stop phrase: " + p}, nil
		}
	}
	queries := Questions(text)
	for _, cue := range negativeCues {
		if containsPhrase(norm, normalize(cue)) {
			return Classification{Sentiment: model.SentimentNegative, Reasoning: "negative cue: " + cue, Queries: queries}, nil
		}
	}
	for _, cue := range positiveCues {
		if containsPhrase(norm, normalize(cue)) {
			return Classification{Sentiment: model.SentimentPositive, Reasoning: "positive cue: " + cue, Queries: queries}, nil
		}
	}
	return Classification{Sentiment: model.SentimentNeutral, Reasoning: "no clear intent", Queries: queries}, nil
}

var sentenceEnd = regexp.MustCompile(`[^.!?\n]*\?`)

// Questions returns the sentences of text that end in a question mark, one
// per line.
func Questions(text string) string {
	var qs []string
	for _, q := range sentenceEnd.FindAllString(text, -1) {
		if q = strings.TrimSpace(q); len(q) > 1 {
			qs = append(qs, q)
		}
	}
	return strings.Join(qs, "\n")
}
