// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"math/rand/v2"
	"regexp"
	"sync"

	"golang.org/x/text/cases"
)

// =============================================================================
// FALLBACK CATEGORIES
// =============================================================================

// Category classifies a message for fallback reply selection.
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategoryHelp     Category = "help"
	CategoryFile     Category = "file"
	CategoryDefault  Category = "default"
)

var (
	greetingPattern = regexp.MustCompile(`^(hi|hello|hey|greetings)`)
	helpPattern     = regexp.MustCompile(`help|how|setup|install|backend|connect`)
	filePattern     = regexp.MustCompile(`file|upload|csv|document|pdf`)
)

// Classify returns the fallback category of message, matching
// case-insensitively. Greeting wins over help, help over file.
func Classify(message string) Category {
	folded := cases.Fold().String(message)
	switch {
	case greetingPattern.MatchString(folded):
		return CategoryGreeting
	case helpPattern.MatchString(folded):
		return CategoryHelp
	case filePattern.MatchString(folded):
		return CategoryFile
	default:
		return CategoryDefault
	}
}

// DefaultReplies returns the built-in reply sets per category.
func DefaultReplies() map[Category][]string {
	return map[Category][]string{
		CategoryGreeting: {
			"Hello! I'm currently running in offline mode. Connect the backend to get AI-powered responses!",
			"Hi there! The backend isn't connected yet, but I'm here to help with basic responses.",
			"Hey! I'm operating in fallback mode. For full functionality, please start the backend server.",
		},
		CategoryHelp: {
			"I'm currently in offline mode. To get full functionality:\n\n" +
				"1. Start the backend server: `python simple_backend.py`\n" +
				"2. Ensure your API key is configured\n" +
				"3. Restart craftchat or run /endpoint\n\n" +
				"For now, I can only provide basic responses.",
			"To connect me to the AI backend:\n" +
				"• Make sure Python is installed\n" +
				"• Run: python simple_backend.py\n" +
				"• Check that port 5000 is available\n" +
				"• Run /status to check the connection",
		},
		CategoryFile: {
			"File processing requires the backend server. Please start it with: python simple_backend.py",
			"I can't process files in offline mode. Connect the backend to enable file analysis.",
		},
		CategoryDefault: {
			"I'm running in offline mode right now. Start the backend server to get AI-powered responses!",
			"Backend connection needed! Run 'python simple_backend.py' to enable full functionality.",
			"This is a fallback response. Connect to the backend for real AI assistance.",
			"I'm currently offline. Start the backend server at localhost:5000 for full features.",
		},
	}
}

// =============================================================================
// FALLBACK GENERATOR
// =============================================================================

// Fallback produces canned replies while the backend is unreachable.
// It is safe for concurrent use.
type Fallback struct {
	replies map[Category][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallback creates a Fallback with the built-in replies. A nil rng uses
// a randomly seeded source; pass a seeded one for reproducible picks.
func NewFallback(rng *rand.Rand) *Fallback {
	return NewFallbackWithReplies(DefaultReplies(), rng)
}

// NewFallbackWithReplies creates a Fallback over custom reply sets. Missing
// or empty categories fall back to the default category's set.
func NewFallbackWithReplies(replies map[Category][]string, rng *rand.Rand) *Fallback {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Fallback{replies: replies, rng: rng}
}

// Replies returns the candidate replies for category.
func (f *Fallback) Replies(category Category) []string {
	if set := f.replies[category]; len(set) > 0 {
		return set
	}
	return f.replies[CategoryDefault]
}

// Respond picks a reply for message uniformly at random from its category.
// The result always has Success set with fallback metadata.
func (f *Fallback) Respond(message string) Response {
	set := f.Replies(Classify(message))

	text := ""
	if len(set) > 0 {
		f.mu.Lock()
		text = set[f.rng.IntN(len(set))]
		f.mu.Unlock()
	}

	return Response{
		Success: true,
		Message: text,
		Metadata: map[string]any{
			"fallback":         true,
			"backendAvailable": false,
		},
	}
}
