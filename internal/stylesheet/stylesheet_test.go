package stylesheet

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	in := Input{
		Inline: []Declaration{
			{Name: "color", Value: "red"},
			{Name: "margin", Value: "0", Disabled: true},
		},
		Matched: []Rule{
			{Selectors: "div.card", Origin: "regular", Declarations: []Declaration{
				{Name: "display", Value: "flex"},
				{Name: "gap", Value: "4px", Important: true},
			}},
			{Selectors: "div", Origin: "user-agent", Declarations: []Declaration{
				{Name: "display", Value: "block"},
			}},
			{Selectors: ".empty", Origin: "regular"},
		},
		Inherited: []Level{
			{Inline: []Declaration{
				{Name: "font-size", Value: "12px"},
				{Name: "line-height", Value: "1.4", Important: true},
				{Name: "color", Value: "blue", Disabled: true},
			}},
			{Matched: []Rule{{Selectors: "body", Origin: "regular", Declarations: []Declaration{
				{Name: "font-family", Value: "sans-serif"},
			}}}},
		},
	}

	want := strings.Join([]string{
		"/* Inline style */\nelement {\n  color: red;\n}",
		"/* Matched Rule from regular */\ndiv.card {\n  display: flex;\n  gap: 4px !important;\n}",
		"/* Matched Rule from user-agent */\ndiv {\n  display: block;\n}",
		"/* Inherited from ancestor level 1 (inline) */\nelement {\n  font-size: 12px;\n  line-height: 1.4 !important;\n}",
		"/* Inherited from ancestor level 2 (regular) */\nbody {\n  font-family: sans-serif;\n}",
	}, "\n\n")

	if diff := cmp.Diff(want, Format(in)); diff != "" {
		t.Errorf("Format mismatch (-want +got):\n%s", diff)
	}
}

func TestFormat_OmitsEmptySections(t *testing.T) {
	in := Input{
		Matched: []Rule{{Selectors: "p", Origin: "regular", Declarations: []Declaration{{Name: "margin", Value: "0"}}}},
	}
	out := Format(in)
	assert.NotContains(t, out, "Inline style")
	assert.NotContains(t, out, "Inherited from")
	assert.Equal(t, "/* Matched Rule from regular */\np {\n  margin: 0;\n}", out)

	t.Run("AllDisabled", func(t *testing.T) {
		in := Input{Inline: []Declaration{{Name: "color", Value: "red", Disabled: true}}}
		assert.Empty(t, Format(in))
	})

	t.Run("EmptyInheritedLevel", func(t *testing.T) {
		in := Input{Inherited: []Level{{Inline: ParseCSSText("  ;  ")}}}
		assert.Empty(t, Format(in))
	})
}

func TestParseCSSText(t *testing.T) {
	got := ParseCSSText("color:blue;  ; background: url(a:b) ; width: 1px !important")
	want := []Declaration{
		{Name: "color", Value: "blue"},
		{Name: "background", Value: "url(a:b)"},
		{Name: "width", Value: "1px", Important: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseCSSText mismatch (-want +got):\n%s", diff)
	}

	t.Run("SemicolonsInsideValues", func(t *testing.T) {
		got := ParseCSSText(`background-image: url("data:image/png;base64,AAAA"); content: 'a;b'; --x: calc(1px + (2px)); color: red`)
		want := []Declaration{
			{Name: "background-image", Value: `url("data:image/png;base64,AAAA")`},
			{Name: "content", Value: `'a;b'`},
			{Name: "--x", Value: "calc(1px + (2px))"},
			{Name: "color", Value: "red"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ParseCSSText mismatch (-want +got):\n%s", diff)
		}
	})
}

// -- Fuzz Testing --

func FuzzFormat(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		in := &Input{}
		if err := consumer.GenerateStruct(in); err != nil {
			return
		}

		out := Format(*in)

		if (out == "") == hasRenderable(*in) {
			t.Errorf("renderable input and output disagree: %q", out)
		}
	})
}

func hasRenderable(in Input) bool {
	live := func(decls []Declaration) bool {
		for _, d := range decls {
			if !d.Disabled && d.Name != "" {
				return true
			}
		}
		return false
	}
	rules := func(rs []Rule) bool {
		for _, r := range rs {
			if live(r.Declarations) {
				return true
			}
		}
		return false
	}
	if live(in.Inline) || rules(in.Matched) {
		return true
	}
	for _, l := range in.Inherited {
		if live(l.Inline) || rules(l.Matched) {
			return true
		}
	}
	return false
}
