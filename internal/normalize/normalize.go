// Package normalize turns raw user text into a NormalizedInput.
//
// Normalize is pure: it reads no clocks, keeps no state and calling it twice
// on the same input yields identical output.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/quantumflow/nevra/internal/models"
)

// Language codes returned by DetectLanguage
const (
	LangEnglish    = "en"
	LangIndonesian = "id"
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)
	mentionPattern  = regexp.MustCompile(`(?:^|[^\w.@])@([A-Za-z0-9_][A-Za-z0-9_.\-]*)`)
	questionPattern = regexp.MustCompile(`[^.!?\n]+\?`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans text, detects its language and extracts structure.
func Normalize(text string, images []string) *models.NormalizedInput {
	cleaned := Clean(text)
	blocks, prose := ExtractCodeBlocks(cleaned)

	normalized := strings.Join(strings.Fields(strings.ToLower(prose)), " ")

	imageCount := 0
	for _, img := range images {
		if strings.TrimSpace(img) != "" {
			imageCount++
		}
	}

	return &models.NormalizedInput{
		Original:   text,
		Cleaned:    cleaned,
		Normalized: normalized,
		Language:   DetectLanguage(normalized),
		CodeBlocks: blocks,
		URLs:       extractURLs(prose),
		Mentions:   extractMentions(prose),
		Questions:  extractQuestions(prose),
		ImageCount: imageCount,
		WordCount:  len(strings.Fields(prose)),
		CharCount:  utf8.RuneCountInString(cleaned),
	}
}

// Clean normalizes line endings, drops control characters, trims trailing
// whitespace per line and collapses runs of blank lines. Clean is idempotent.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")

	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractCodeBlocks returns every fenced block in text, in order, and the
// text with those blocks removed. An unterminated fence runs to the end.
func ExtractCodeBlocks(text string) ([]models.CodeBlock, string) {
	var (
		blocks  []models.CodeBlock
		prose   []string
		current []string
		lang    string
		inBlock bool
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inBlock {
				inBlock = true
				lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				current = current[:0]
				continue
			}
			blocks = append(blocks, models.CodeBlock{
				Language: lang,
				Code:     strings.Join(current, "\n"),
			})
			inBlock = false
			continue
		}

		if inBlock {
			current = append(current, line)
		} else {
			prose = append(prose, line)
		}
	}

	if inBlock {
		blocks = append(blocks, models.CodeBlock{
			Language: lang,
			Code:     strings.Join(current, "\n"),
		})
	}

	return blocks, strings.Join(prose, "\n")
}

func extractURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, match := range urlPattern.FindAllString(text, -1) {
		u := strings.TrimRight(match, ".,;:!?)]}'\"")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

func extractMentions(text string) []string {
	var mentions []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[1], ".-")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		mentions = append(mentions, name)
	}
	return mentions
}

func extractQuestions(text string) []string {
	var questions []string
	text = urlPattern.ReplaceAllString(text, " ")
	for _, q := range questionPattern.FindAllString(text, -1) {
		q = strings.TrimSpace(q)
		if len(q) > 1 {
			questions = append(questions, q)
		}
	}
	return questions
}
