package normalize

import "strings"

// Weighted indicator words. Function words that only occur in one language
// weigh more than words shared by technical vocabulary.
var (
	englishWords = map[string]int{
		"the": 3, "is": 2, "are": 2, "what": 2, "how": 2, "why": 2,
		"please": 2, "can": 1, "you": 1, "with": 1, "and": 1, "for": 1,
		"this": 1, "that": 1, "to": 1, "of": 1, "a": 1, "create": 1,
		"make": 1, "build": 1, "explain": 2, "write": 1, "fix": 1,
		"hi": 1, "hello": 1, "thanks": 1, "my": 1, "it": 1, "in": 1,
	}
	indonesianWords = map[string]int{
		"yang": 3, "dan": 2, "apa": 2, "bagaimana": 3, "gimana": 3,
		"kenapa": 3, "mengapa": 3, "tolong": 3, "buat": 2, "buatkan": 3,
		"bikin": 3, "bisa": 2, "dengan": 2, "untuk": 2, "ini": 2,
		"itu": 2, "saya": 3, "aku": 2, "kamu": 2, "tidak": 2, "dari": 1,
		"ke": 1, "di": 1, "adalah": 2, "jelaskan": 3, "halo": 1,
		"terima": 2, "kasih": 2, "perbaiki": 3, "tambahkan": 3,
	}
	indonesianSuffixes = []string{"nya", "kan", "lah"}
)

// DetectLanguage returns LangIndonesian or LangEnglish for lower-cased text.
// Ties, including texts without any indicator word, fall back to a suffix
// heuristic.
func DetectLanguage(text string) string {
	words := tokenize(text)

	en, id := 0, 0
	for _, w := range words {
		en += englishWords[w]
		id += indonesianWords[w]
	}

	switch {
	case id > en:
		return LangIndonesian
	case en > id:
		return LangEnglish
	}

	for _, w := range words {
		if len(w) <= 4 {
			continue
		}
		for _, suffix := range indonesianSuffixes {
			if strings.HasSuffix(w, suffix) {
				return LangIndonesian
			}
		}
	}
	return LangEnglish
}

// tokenize splits text into lower-case words without punctuation
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}
