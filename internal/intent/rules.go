package intent

import (
	"regexp"
	"strings"

	"github.com/quantumflow/nevra/internal/models"
)

// Rule maps an intent to the phrases that indicate it.
type Rule struct {
	Intent   models.Intent
	Keywords []string
	Patterns []*regexp.Regexp
}

// Rules are evaluated in order and the first rule that matches wins: debug
// beats test, test beats refactor, and so on down to edit. Anything that
// matches nothing is code generation.
var Rules = []Rule{
	{
		Intent: models.IntentDebug,
		Keywords: []string{
			"error", "errors", "bug", "bugs", "fix", "crash", "crashes", "exception",
			"not working", "doesn't work", "does not work", "broken", "fails", "failed",
			"failing", "traceback", "stack trace", "undefined", "debug",
			"galat", "perbaiki", "tidak jalan", "gak jalan", "nggak jalan", "rusak", "eror",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b\w*(error|exception)\b`),
			regexp.MustCompile(`(?i)cannot read propert`),
			regexp.MustCompile(`(?i)\bpanic:`),
		},
	},
	{
		Intent: models.IntentTest,
		Keywords: []string{
			"test", "tests", "testing", "unit test", "unit tests", "jest", "vitest",
			"pytest", "coverage", "test case", "test cases", "e2e",
			"uji", "pengujian", "tes",
		},
	},
	{
		Intent: models.IntentRefactor,
		Keywords: []string{
			"refactor", "refactoring", "clean up", "cleanup", "restructure",
			"optimize", "optimise", "simplify", "improve readability", "reorganize",
			"rapikan", "optimasi", "sederhanakan",
		},
	},
	{
		Intent: models.IntentQuestion,
		Keywords: []string{
			"what is", "what's", "what are", "how to", "how do", "how can", "can i",
			"is it", "should i", "which", "hi", "hello", "hey", "halo", "hai",
			"apa", "apakah", "bagaimana", "gimana", "kapan", "mana",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\?\s*$`),
		},
	},
	{
		Intent: models.IntentExplanation,
		Keywords: []string{
			"explain", "describe", "why does", "why is", "walk me through", "teach",
			"understand", "tell me about", "meaning of", "difference between",
			"jelaskan", "terangkan", "maksud", "kenapa", "mengapa", "ajari",
		},
	},
	{
		Intent: models.IntentEdit,
		Keywords: []string{
			"change", "modify", "update", "edit", "rename", "replace", "remove",
			"delete", "move", "adjust",
			"ubah", "ganti", "hapus", "pindahkan", "sesuaikan",
		},
	},
}

// creationKeywords strengthen the default code generation intent
var creationKeywords = []string{
	"create", "build", "make", "generate", "write", "implement", "develop", "design",
	"buat", "buatkan", "bikin", "bikinkan", "kembangkan",
}

// followUpMarkers signal that a message continues the previous exchange
var followUpMarkers = []string{
	"also", "again", "instead", "now", "continue", "previous", "above", "same",
	"that one", "the last", "lagi", "juga", "tadi", "sekarang", "lanjut", "lanjutkan",
}

var errorSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(type|syntax|reference|range|value|key|attribute|import|runtime)error\b`),
	regexp.MustCompile(`(?i)\b(uncaught|unhandled)\b`),
	regexp.MustCompile(`(?i)\btraceback\b`),
	regexp.MustCompile(`(?i)\bstack ?trace\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`(?i)cannot read propert`),
	regexp.MustCompile(`(?i)\bpanic:`),
	regexp.MustCompile(`(?i)\bfailed to\b`),
}

var inlineCodeSignals = []*regexp.Regexp{
	regexp.MustCompile("`[^`\n]+`"),
	regexp.MustCompile(`(?m)^\s*(function|const|let|var|import|export|def|class|func|package|public|private)\s`),
	regexp.MustCompile(`=>|</?[a-zA-Z][a-zA-Z0-9]*[ />]|\)\s*\{`),
}

type namedPattern struct {
	name     string
	keywords []string
}

// Frameworks are checked in order so that more specific names win
// (Next.js before React, Nuxt before Vue).
var frameworks = []namedPattern{
	{"nextjs", []string{"next.js", "nextjs", "next js"}},
	{"nuxt", []string{"nuxt", "nuxt.js", "nuxtjs"}},
	{"react", []string{"react", "reactjs", "react.js", "jsx"}},
	{"vue", []string{"vue", "vuejs", "vue.js"}},
	{"svelte", []string{"svelte", "sveltekit"}},
	{"angular", []string{"angular"}},
	{"express", []string{"express", "expressjs"}},
	{"django", []string{"django"}},
	{"flask", []string{"flask"}},
	{"fastapi", []string{"fastapi"}},
	{"laravel", []string{"laravel"}},
	{"spring", []string{"spring boot", "spring"}},
	{"gin", []string{"gin", "golang gin"}},
	{"flutter", []string{"flutter"}},
	{"html", []string{"html", "vanilla js", "vanilla javascript"}},
}

var components = []namedPattern{
	{"navbar", []string{"navbar", "navigation", "nav bar", "menu bar"}},
	{"header", []string{"header"}},
	{"footer", []string{"footer"}},
	{"sidebar", []string{"sidebar", "side bar"}},
	{"hero", []string{"hero", "hero section", "landing"}},
	{"button", []string{"button", "buttons", "tombol"}},
	{"form", []string{"form", "forms", "formulir"}},
	{"modal", []string{"modal", "dialog", "popup"}},
	{"card", []string{"card", "cards", "kartu"}},
	{"table", []string{"table", "tabel", "data grid"}},
	{"login", []string{"login", "log in", "sign in", "masuk"}},
	{"dashboard", []string{"dashboard", "admin panel"}},
	{"chart", []string{"chart", "charts", "graph", "grafik"}},
	{"carousel", []string{"carousel", "slider"}},
	{"pagination", []string{"pagination", "paging"}},
	{"search", []string{"search bar", "search box", "pencarian"}},
	{"list", []string{"todo list", "list", "daftar"}},
}

var features = []namedPattern{
	{"authentication", []string{"auth", "authentication", "signup", "sign up", "register", "otentikasi", "autentikasi"}},
	{"dark_mode", []string{"dark mode", "theme toggle", "mode gelap"}},
	{"responsive", []string{"responsive", "mobile friendly", "mobile-friendly", "responsif"}},
	{"animation", []string{"animation", "animations", "animated", "transition", "animasi"}},
	{"api", []string{"api", "rest", "graphql", "endpoint", "fetch"}},
	{"database", []string{"database", "db", "sql", "mongodb", "postgres", "mysql", "basis data"}},
	{"validation", []string{"validation", "validate", "validasi"}},
	{"payment", []string{"payment", "checkout", "stripe", "pembayaran"}},
	{"notifications", []string{"notification", "notifications", "toast", "notifikasi"}},
	{"i18n", []string{"i18n", "translation", "multilingual", "multi language"}},
	{"state_management", []string{"redux", "zustand", "state management", "context api"}},
}

var styles = []namedPattern{
	{"tailwind", []string{"tailwind", "tailwindcss"}},
	{"bootstrap", []string{"bootstrap"}},
	{"material", []string{"material ui", "mui", "material design"}},
	{"glassmorphism", []string{"glassmorphism", "glass"}},
	{"minimalist", []string{"minimalist", "minimal", "clean design", "simple design"}},
	{"modern", []string{"modern", "sleek"}},
	{"styled-components", []string{"styled-components", "styled components", "css-in-js"}},
	{"css", []string{"plain css", "css modules", "vanilla css"}},
}

// padded returns text lower-cased with punctuation turned into single
// spaces and a leading and trailing space, so phrases match on word
// boundaries with a plain substring test.
func padded(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		keep := r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '\'' || r == '-' || r > 127
		if keep {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	return strings.ReplaceAll(b.String(), ". ", " ")
}

func countPhrases(p string, phrases []string) int {
	hits := 0
	for _, phrase := range phrases {
		if strings.Contains(p, " "+phrase+" ") {
			hits++
		}
	}
	return hits
}

func containsAny(p string, phrases []string) bool {
	return countPhrases(p, phrases) > 0
}

func matchNamed(p string, table []namedPattern) []string {
	var out []string
	for _, entry := range table {
		if containsAny(p, entry.keywords) {
			out = append(out, entry.name)
		}
	}
	return out
}
