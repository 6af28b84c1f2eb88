package models

// CodeBlock is one fenced block extracted from user input
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// NormalizedInput is the cleaned form of a raw user message
type NormalizedInput struct {
	Original   string      `json:"original"`
	Cleaned    string      `json:"cleaned"`
	Normalized string      `json:"normalized"`
	Language   string      `json:"language"`
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`
	URLs       []string    `json:"urls,omitempty"`
	Mentions   []string    `json:"mentions,omitempty"`
	Questions  []string    `json:"questions,omitempty"`
	ImageCount int         `json:"image_count"`
	WordCount  int         `json:"word_count"`
	CharCount  int         `json:"char_count"`
}

// ContextFlags are boolean signals derived from the input and history
type ContextFlags struct {
	HasCode    bool `json:"hasCode"`
	HasImages  bool `json:"hasImages"`
	HasErrors  bool `json:"hasErrors"`
	IsFollowUp bool `json:"isFollowUp"`
}

// Requirements are structured hints extracted from the request
type Requirements struct {
	Framework  string   `json:"framework,omitempty"`
	Components []string `json:"components,omitempty"`
	Features   []string `json:"features,omitempty"`
	Style      string   `json:"style,omitempty"`
}

// Breadth is the number of requested components plus features
func (r Requirements) Breadth() int {
	return len(r.Components) + len(r.Features)
}

// IntentAnalysis is the classification of one normalized input
type IntentAnalysis struct {
	Primary      Intent       `json:"primary"`
	Confidence   float64      `json:"confidence"`
	Secondary    []Intent     `json:"secondary,omitempty"`
	Context      ContextFlags `json:"context"`
	Requirements Requirements `json:"requirements"`
	Complexity   Complexity   `json:"complexity"`
}
