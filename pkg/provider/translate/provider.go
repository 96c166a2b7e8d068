// Package translate defines the Provider interface for machine translation
// backends.
//
// A provider translates a single text from a source language to a target
// language. Providers declare which targets they handle through Supports so
// the translation chain can skip them without a network round trip.
//
// Implementations must be safe for concurrent use: the fan-out calls
// Translate from one goroutine per target language.
package translate

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupported is returned by Translate when the provider cannot handle the
// requested language pair.
var ErrUnsupported = errors.New("translate: language not supported")

// ErrEmptyResult is returned when a backend answers successfully but with no
// text.
var ErrEmptyResult = errors.New("translate: empty translation")

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Name identifies the provider in logs, metrics and translation results.
	Name() string

	// Supports reports whether target can be requested at all.
	Supports(target string) bool

	// Translate returns text rendered in target. source and target are BCP 47
	// tags or bare ISO 639-1 codes ("zh", "zh-CN", "en").
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Languages is a set of target language codes. The zero value supports every
// language.
type Languages map[string]struct{}

// NewLanguages builds a set from codes. Codes are normalised with [BaseLang].
func NewLanguages(codes ...string) Languages {
	if len(codes) == 0 {
		return nil
	}
	set := make(Languages, len(codes))
	for _, c := range codes {
		set[BaseLang(c)] = struct{}{}
	}
	return set
}

// Supports reports whether lang is in the set. An empty set supports all
// languages.
func (l Languages) Supports(lang string) bool {
	if len(l) == 0 {
		return true
	}
	_, ok := l[BaseLang(lang)]
	return ok
}

// BaseLang lower-cases tag and strips any region or script subtag:
// "zh-CN" and "ZH_hans" both become "zh".
func BaseLang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

var displayNames = map[string]string{
	"ar": "Arabic",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"hi": "Hindi",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"ms": "Malay",
	"pt": "Portuguese",
	"ru": "Russian",
	"th": "Thai",
	"tl": "Filipino",
	"tr": "Turkish",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// DisplayName returns the English name of a language code, or the code itself
// when it is unknown.
func DisplayName(code string) string {
	if name, ok := displayNames[BaseLang(code)]; ok {
		return name
	}
	return code
}
