// Package chat answers questions with conversation memory.
//
// A Service reads the session's formatted history, asks a Retriever for
// supporting passages, builds a plain-text prompt, gets the answer from a
// Completer and records the exchange in memory. Handler exposes the service
// and the history operations over HTTP.
package chat

import "strings"

// SystemPrompt is sent ahead of every prompt by the completers
const SystemPrompt = "You are a helpful assistant."

// BuildPrompt joins history lines, retrieved passages and the new question
// into the prompt the completer sees:
//
//	User: earlier question
//	Bot: earlier answer
//	<passage>
//	User: <input>
//	Bot:
func BuildPrompt(history, passages []string, input string) string {
	lines := make([]string, 0, len(history)+len(passages)+2)
	lines = append(lines, history...)
	lines = append(lines, passages...)
	lines = append(lines, "User: "+input, "Bot:")
	return strings.Join(lines, "\n")
}
