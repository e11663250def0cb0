// Package langdetect tags admitted articles with an ISO 639-1 code.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const (
	minLetters  = 12
	sampleRunes = 2000
	// Below this the detector is guessing; the article is stored untagged instead.
	minConfidence = 0.5
)

// Detector is safe for concurrent use. The underlying models load on first use.
type Detector struct {
	languages []lingua.Language
	// only is set when a single language was requested; anything else detects as "".
	only *lingua.Language

	once     sync.Once
	detector lingua.LanguageDetector
}

// New restricts detection to the given languages; none means every language lingua knows.
// lingua needs two candidates, so a single language is checked against a contrast language
// and only that language is ever reported.
func New(languages ...lingua.Language) *Detector {
	unique := make([]lingua.Language, 0, len(languages))
	seen := make(map[lingua.Language]bool, len(languages))
	for _, language := range languages {
		if seen[language] {
			continue
		}
		seen[language] = true
		unique = append(unique, language)
	}

	d := &Detector{languages: unique}
	if len(unique) == 1 {
		only := unique[0]
		d.only = &only
		d.languages = []lingua.Language{only, contrastLanguage(only)}
	}
	return d
}

func contrastLanguage(language lingua.Language) lingua.Language {
	if language == lingua.English {
		return lingua.German
	}
	return lingua.English
}

// Detect returns a lower-case ISO 639-1 code for title and body, or "" when unsure.
func (d *Detector) Detect(title, body string) string {
	sample := buildSample(title, body)
	if sample == "" {
		return ""
	}

	detector := d.get()
	language, exists := detector.DetectLanguageOf(sample)
	if !exists {
		return ""
	}
	if d.only != nil && language != *d.only {
		return ""
	}
	if detector.ComputeLanguageConfidence(sample, language) < minConfidence {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func (d *Detector) get() lingua.LanguageDetector {
	d.once.Do(func() {
		var builder lingua.LanguageDetectorBuilder
		if len(d.languages) > 1 {
			builder = lingua.NewLanguageDetectorBuilder().FromLanguages(d.languages...)
		} else {
			builder = lingua.NewLanguageDetectorBuilder().FromAllLanguages()
		}
		d.detector = builder.WithPreloadedLanguageModels().Build()
	})
	return d.detector
}

func buildSample(title, body string) string {
	joined := strings.TrimSpace(strings.TrimSpace(title) + "\n" + strings.TrimSpace(body))
	if joined == "" {
		return ""
	}

	runes := []rune(joined)
	if len(runes) > sampleRunes {
		runes = runes[:sampleRunes]
	}

	letters := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}
	return string(runes)
}
