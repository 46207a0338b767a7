package stylesheet

import (
	"github.com/chromedp/cdproto/css"
)

// FromMatchedStyles converts a CSS.getMatchedStylesForNode result into Format input.
// Implicit longhands generated from shorthands are skipped.
func FromMatchedStyles(res *css.GetMatchedStylesForNodeReturns) Input {
	if res == nil {
		return Input{}
	}
	in := Input{
		Inline:  fromStyle(res.InlineStyle),
		Matched: fromRuleMatches(res.MatchedCSSRules),
	}
	for _, entry := range res.Inherited {
		if entry == nil {
			continue
		}
		level := Level{
			Inline:  fromStyle(entry.InlineStyle),
			Matched: fromRuleMatches(entry.MatchedCSSRules),
		}
		// Older backends send only the raw text for inherited inline styles.
		if entry.InlineStyle != nil && len(entry.InlineStyle.CSSProperties) == 0 {
			level.Inline = ParseCSSText(entry.InlineStyle.CSSText)
		}
		in.Inherited = append(in.Inherited, level)
	}
	return in
}

func fromRuleMatches(matches []*css.RuleMatch) []Rule {
	var rules []Rule
	for _, m := range matches {
		if m == nil || m.Rule == nil {
			continue
		}
		r := Rule{
			Origin:       string(m.Rule.Origin),
			Declarations: fromStyle(m.Rule.Style),
		}
		if m.Rule.SelectorList != nil {
			r.Selectors = m.Rule.SelectorList.Text
		}
		rules = append(rules, r)
	}
	return rules
}

func fromStyle(s *css.Style) []Declaration {
	if s == nil {
		return nil
	}
	decls := make([]Declaration, 0, len(s.CSSProperties))
	for _, p := range s.CSSProperties {
		if p == nil || p.Implicit {
			continue
		}
		decls = append(decls, Declaration{
			Name:      p.Name,
			Value:     p.Value,
			Important: p.Important,
			Disabled:  p.Disabled,
		})
	}
	return decls
}
