// Package translate fans one recognized utterance out to every configured
// target language and walks an ordered provider chain per language.
//
// A language never ends up without text: when no provider can translate it
// the source text is used and the entry is flagged [Fallback].
package translate

import (
	"slices"
)

// RecognitionResult is the recognizer output for one utterance.
type RecognitionResult struct {
	UtteranceID string
	Seq         uint64
	Text        string

	// Language is the source-language tag, e.g. "zh".
	Language string
}

// Outcome describes how a language's text was produced.
type Outcome string

const (
	// Translated means a provider returned a translation.
	Translated Outcome = "translated"

	// Fallback means every provider failed or declined and the source text
	// was used instead.
	Fallback Outcome = "fallback"

	// NotAttempted means no provider was asked: the text was empty, the
	// target equals the source language, or the context ended first.
	NotAttempted Outcome = "not_attempted"
)

// Translation is one language's entry in a [TranslationSet].
type Translation struct {
	Lang    string
	Text    string
	Outcome Outcome

	// Provider names the provider that produced Text. Empty unless Outcome
	// is [Translated].
	Provider string
}

// TranslationSet is the fan-in of all language tasks for one utterance.
type TranslationSet struct {
	UtteranceID string
	Seq         uint64
	Source      string
	SourceLang  string
	Entries     map[string]Translation
}

// Langs returns the entry languages in sorted order.
func (s TranslationSet) Langs() []string {
	langs := make([]string, 0, len(s.Entries))
	for l := range s.Entries {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Count returns how many entries have outcome o.
func (s TranslationSet) Count(o Outcome) int {
	n := 0
	for _, e := range s.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}
