package chat

import (
	"fmt"
	"strings"

	"github.com/tunogya/tkg/pkg/window"
)

// BuildPrompt assembles the conversational prompt for the visible window
func BuildPrompt(v window.View, question string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an AI assistant analyzing a Temporal Knowledge Graph (TKG) of stock market data for %s.\n", v.Ticker)
	fmt.Fprintf(&b, "The user is currently viewing a %d-day window of normalized state vectors.\n", len(v.Rows))
	b.WriteString("The state vector components are:\n")
	b.WriteString("- r_open: (Open - Close) / Close, normalized between 0 and 1\n")
	b.WriteString("- r_high: (High - Close) / Close, normalized between 0 and 1\n")
	b.WriteString("- r_low: (Low - Close) / Close, normalized between 0 and 1\n")
	b.WriteString("- ret_close: daily close return, normalized between 0 and 1\n")
	fmt.Fprintf(&b, "Semantics are short labels of the transition from the previous day, listed per category; the user is focused on the %q category.\n\n", v.Category)

	fmt.Fprintf(&b, "Here is the data for the currently visible %d-day window:\n", len(v.Rows))
	b.WriteString(FormatWindow(v))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "User question: %s\n\n", strings.TrimSpace(question))

	b.WriteString("IMPORTANT: When referring to specific dates, ALWAYS format them as a markdown link using the exact date ")
	b.WriteString("as both the text and the href, like this: [2018-02-13](#2018-02-13). ")
	b.WriteString("This will allow the user to click the date and see it on the graph.\n\n")
	b.WriteString("Please provide a concise and insightful answer based on the provided TKG data.")

	return b.String()
}
