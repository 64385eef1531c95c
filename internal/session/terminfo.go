package session

import (
	"os"
	"strings"
)

// termAliases maps TERM values that lack terminfo entries on many hosts to a
// compatible entry Bubble Tea can load.
var termAliases = map[string]string{
	"xterm-ghostty": "xterm-256color",
	"xterm-kitty":   "xterm-256color",
	"wezterm":       "xterm-256color",
}

// normalizeTERMForBubbleTea swaps TERM for its alias while a prompt is on
// screen and returns a function that puts the original value back.
func normalizeTERMForBubbleTea() func() {
	prev, existed := os.LookupEnv("TERM")
	alias, ok := termAliases[strings.ToLower(strings.TrimSpace(prev))]
	if !existed || !ok {
		return func() {}
	}
	_ = os.Setenv("TERM", alias)
	return func() { _ = os.Setenv("TERM", prev) }
}
