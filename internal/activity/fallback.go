package activity

import "fmt"

// FallbackSummary is the deterministic summary used whenever the summarizer
// is unavailable, fails, or returns nothing.
func FallbackSummary(events []string) string {
	var first, last string
	if n := len(events); n > 0 {
		first, last = events[0], events[n-1]
	}
	return fmt.Sprintf(
		"User performed %d actions. They started with: \"%s\" and later: \"%s\". See the list below for details.",
		len(events), first, last,
	)
}
