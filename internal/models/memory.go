package models

import "time"

// MemoryEntry is an append-only record of one completed request
type MemoryEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	Prompt       string    `json:"prompt"`
	Result       string    `json:"result"`
	Intent       Intent    `json:"intent"`
	Mode         Mode      `json:"mode"`
	Framework    string    `json:"framework,omitempty"`
	Components   []string  `json:"components,omitempty"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// AgentMemoryEntry is an append-only self-reflection record
type AgentMemoryEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Intent        Intent    `json:"intent"`
	QualityScore  float64   `json:"quality_score"`
	WhatWorked    []string  `json:"what_worked,omitempty"`
	WhatFailed    []string  `json:"what_failed,omitempty"`
	ShouldImprove []string  `json:"should_improve,omitempty"`
	Lessons       []string  `json:"lessons,omitempty"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// KnowledgeRecord is a normalized fact about a completed request,
// stored in the knowledge graph
type KnowledgeRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Intent       Intent    `json:"intent"`
	Framework    string    `json:"framework,omitempty"`
	Components   []string  `json:"components,omitempty"`
	Summary      string    `json:"summary"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredMemory pairs a memory with its relevance to the current request
type ScoredMemory struct {
	Entry *MemoryEntry `json:"entry"`
	Score float64      `json:"score"`
}
