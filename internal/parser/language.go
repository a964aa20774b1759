package parser

import (
	"strings"
	"unicode"
)

// Grounded on internal/core/links/language.go's character-ratio
// heuristic, generalized from the teacher's en/ru/uk set to just
// detecting English vs. "unknown" (the spec's Language field has no
// closed enum requiring finer classification than that).
const (
	langEnglish = "en"

	latinThreshold = 0.5
)

func detectLanguage(jsonLDLang, ogLocale, content string) string {
	const minLangCodeLen = 2

	if len(jsonLDLang) >= minLangCodeLen {
		return normalizeLangCode(jsonLDLang)
	}

	if len(ogLocale) >= minLangCodeLen {
		return normalizeLangCode(ogLocale)
	}

	const maxSample = 1000

	sample := content
	if len(sample) > maxSample {
		sample = sample[:maxSample]
	}

	return detectFromContent(sample)
}

func normalizeLangCode(s string) string {
	s = strings.ToLower(s)
	if len(s) >= 2 {
		return s[:2]
	}

	return s
}

func detectFromContent(text string) string {
	var latin, total int

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}

		total++

		if isLatin(r) {
			latin++
		}
	}

	if total == 0 {
		return ""
	}

	if float64(latin)/float64(total) >= latinThreshold {
		return langEnglish
	}

	return ""
}

func isLatin(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
		(r >= 0x00C0 && r <= 0x00FF) || (r >= 0x0100 && r <= 0x017F)
}
