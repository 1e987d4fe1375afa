// Package prompt assembles the system prompt and outgoing message list.
package prompt

import (
	"fmt"
	"strings"

	"uigen/pkg/ai"
	"uigen/pkg/catalog"
	"uigen/pkg/chat"
)

// InstructionSuffix is appended to the content of the last user turn.
const InstructionSuffix = "\nReturn only code, no fences, no language labels."

// Variant selects the instruction template for a route.
type Variant string

const (
	VariantReact  Variant = "react"
	VariantNextJS Variant = "nextjs"
)

var templates = map[Variant][]string{
	VariantReact: {
		"You are an expert React engineer.",
		"Build a modern, responsive landing page as a single file.",
		"Use Tailwind CSS for all styling.",
		"Use only the UI components listed below and import them from \"@/components/ui/...\".",
		"Return only the raw source code of the file, with no markdown fences and no commentary.",
	},
	VariantNextJS: {
		"You are an expert Next.js and React engineer.",
		"Use Next.js 14+ with the App Router.",
		"Use Tailwind CSS for all styling.",
		"Write TypeScript.",
		"Use only the UI components listed below and import them from \"@/components/ui/...\".",
		"Return only the raw source code of the component, with no markdown fences and no commentary.",
	},
}

// ParseVariant resolves a configured variant name.
func ParseVariant(name string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := templates[v]; !ok {
		return "", fmt.Errorf("unknown prompt variant %q (want %s or %s)", name, VariantReact, VariantNextJS)
	}
	return v, nil
}

// BuildSystemPrompt renders the variant template followed by the catalog,
// one component per line in catalog order. Output is byte-identical for the
// same inputs.
func BuildSystemPrompt(variant Variant, cat catalog.Catalog) (string, error) {
	lines, ok := templates[variant]
	if !ok {
		return "", fmt.Errorf("unknown prompt variant %q", variant)
	}
	if len(cat) == 0 {
		return "", fmt.Errorf("catalog is empty")
	}
	if err := cat.Validate(); err != nil {
		return "", fmt.Errorf("invalid catalog: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\nAvailable components:")
	for _, comp := range cat {
		sb.WriteString("\n- ")
		sb.WriteString(comp.Name)
		if comp.Usage != "" {
			// Every usage line is indented so none reads as a list entry.
			for _, line := range strings.Split(comp.Usage, "\n") {
				sb.WriteString("\n  ")
				sb.WriteString(strings.TrimRight(line, "\r"))
			}
		}
	}
	return sb.String(), nil
}

// BuildMessages prepends the system turn and appends InstructionSuffix to
// the last turn when it was written by the user. Earlier turns are copied
// unchanged.
func BuildMessages(systemPrompt string, turns []chat.Turn) []ai.Message {
	messages := make([]ai.Message, 0, len(turns)+1)
	messages = append(messages, ai.Message{Role: "system", Content: systemPrompt})

	for i, turn := range turns {
		content := turn.Content
		if i == len(turns)-1 && turn.Role == chat.RoleUser {
			content += InstructionSuffix
		}
		messages = append(messages, ai.Message{Role: string(turn.Role), Content: content})
	}
	return messages
}
