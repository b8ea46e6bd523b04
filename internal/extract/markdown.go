package extract

import (
	"fmt"
	"strings"
)

// MarkdownClickables renders clickables as a two-column table followed by a
// total. Entries without text are left out of the table but still counted.
func MarkdownClickables(items []DescribedElement) string {
	var b strings.Builder
	b.WriteString("\n\n## Clickable Elements\n\n")
	if len(items) == 0 {
		b.WriteString("No clickable elements found on this page.\n")
		return b.String()
	}
	b.WriteString("| XPath | Text/Alt |\n")
	b.WriteString("|-------|----------|\n")
	for _, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s |\n", escapePipes(item.Address), escapePipes(text))
	}
	fmt.Fprintf(&b, "\n**Total:** %d clickable elements\n", len(items))
	return b.String()
}

// MarkdownInputs renders form controls as a five-column table followed by a
// total.
func MarkdownInputs(fields []InputField) string {
	var b strings.Builder
	b.WriteString("\n\n## Input Elements\n\n")
	if len(fields) == 0 {
		b.WriteString("No input elements found on this page.\n")
		return b.String()
	}
	b.WriteString("| XPath | Type | Description | Required | Disabled |\n")
	b.WriteString("|-------|------|-------------|----------|----------|\n")
	for _, f := range fields {
		desc := strings.TrimSpace(f.Description)
		if desc == "" {
			desc = NoDescription
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			escapePipes(f.Address), escapePipes(f.Type), escapePipes(desc), check(f.Required), check(f.Disabled))
	}
	fmt.Fprintf(&b, "\n**Total:** %d input elements\n", len(fields))
	return b.String()
}

// MarkdownMatches renders text matches the same way as clickables.
func MarkdownMatches(query string, items []DescribedElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n## Elements containing %q\n\n", query)
	if len(items) == 0 {
		b.WriteString("No matching elements found on this page.\n")
		return b.String()
	}
	b.WriteString("| XPath | Text |\n")
	b.WriteString("|-------|------|\n")
	for _, item := range items {
		fmt.Fprintf(&b, "| `%s` | %s |\n", escapePipes(item.Address), escapePipes(item.Text))
	}
	fmt.Fprintf(&b, "\n**Total:** %d matching elements\n", len(items))
	return b.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return ""
}
