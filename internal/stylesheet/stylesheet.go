// Package stylesheet renders the matched, inline and inherited rules of a node as one
// readable, stylesheet-like block.
package stylesheet

import (
	"fmt"
	"strings"
)

// InlineSelector stands in for the element when an inline style is rendered as a rule.
const InlineSelector = "element"

// Declaration is one property of a rule.
type Declaration struct {
	Name      string
	Value     string
	Important bool
	Disabled  bool
}

// Rule is a matched rule with its selector text and origin.
type Rule struct {
	Selectors    string
	Origin       string
	Declarations []Declaration
}

// Level holds the styles inherited from one ancestor, nearest ancestor first.
type Level struct {
	Inline  []Declaration
	Matched []Rule
}

// Input is everything Format renders.
type Input struct {
	Inline    []Declaration
	Matched   []Rule
	Inherited []Level
}

// Format renders in in a fixed order: the inline style, the matched rules, then each
// inherited level. Sections with nothing to show are left out.
func Format(in Input) string {
	var blocks []string

	if body := renderDeclarations(in.Inline); body != "" {
		blocks = append(blocks, block("/* Inline style */", InlineSelector, body))
	}

	for _, r := range in.Matched {
		if body := renderDeclarations(r.Declarations); body != "" {
			blocks = append(blocks, block(fmt.Sprintf("/* Matched Rule from %s */", r.Origin), r.Selectors, body))
		}
	}

	for i, level := range in.Inherited {
		n := i + 1
		if body := renderDeclarations(level.Inline); body != "" {
			blocks = append(blocks, block(inheritedLabel(n, "inline"), InlineSelector, body))
		}
		for _, r := range level.Matched {
			if body := renderDeclarations(r.Declarations); body != "" {
				blocks = append(blocks, block(inheritedLabel(n, r.Origin), r.Selectors, body))
			}
		}
	}

	return strings.Join(blocks, "\n\n")
}

// ParseCSSText splits a style attribute body into declarations. Semicolons inside
// quotes or parentheses do not end a declaration. Fragments without a colon are dropped.
func ParseCSSText(text string) []Declaration {
	var out []Declaration
	for _, part := range splitDeclarations(text) {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		important := false
		if v, found := strings.CutSuffix(value, "!important"); found {
			value = strings.TrimSpace(v)
			important = true
		}
		out = append(out, Declaration{Name: name, Value: value, Important: important})
	}
	return out
}

func splitDeclarations(text string) []string {
	var (
		parts []string
		start int
		depth int
		quote rune
		esc   bool
	)
	for i, r := range text {
		switch {
		case esc:
			esc = false
		case r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case r == ';' && depth == 0:
			parts = append(parts, text[start:i])
			start = i + 1
		}
	}
	return append(parts, text[start:])
}

func inheritedLabel(level int, origin string) string {
	return fmt.Sprintf("/* Inherited from ancestor level %d (%s) */", level, origin)
}

func block(label, selectors, body string) string {
	return label + "\n" + selectors + " {\n" + body + "}"
}

func renderDeclarations(decls []Declaration) string {
	var sb strings.Builder
	for _, d := range decls {
		if d.Disabled || d.Name == "" {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(d.Name)
		sb.WriteString(": ")
		sb.WriteString(d.Value)
		if d.Important {
			sb.WriteString(" !important")
		}
		sb.WriteString(";\n")
	}
	return sb.String()
}
