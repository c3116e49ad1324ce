package utils

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"plain":           {`{"a":1}`, `{"a":1}`},
		"with prose":      {"结果如下：\n```json\n{\"a\":{\"b\":2}}\n```\n完毕", `{"a":{"b":2}}`},
		"brace in string": {`前缀 {"note":"use } carefully","n":1} 后缀`, `{"note":"use } carefully","n":1}`},
		"escaped quote":   {`{"q":"say \"}\""}`, `{"q":"say \"}\""}`},
		"no json":         {"没有 JSON", "没有 JSON"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractHTMLPrefersHTMLBlock(t *testing.T) {
	content := "先看样式\n```css\n#a {}\n```\n组件如下\n```html\n<section id=\"a\"></section>\n```\n"
	if got := ExtractHTML(content); got != `<section id="a"></section>` {
		t.Fatalf("unexpected html: %q", got)
	}
}

func TestExtractHTMLFallbacks(t *testing.T) {
	if got := ExtractHTML("```\n<section></section>\n```"); got != "<section></section>" {
		t.Fatalf("untagged block: %q", got)
	}
	if got := ExtractHTML("  <section></section>\n"); got != "<section></section>" {
		t.Fatalf("bare html: %q", got)
	}
	if got := ExtractHTML("```html\n<section></section>"); got != "<section></section>" {
		t.Fatalf("truncated block: %q", got)
	}
}

func TestToJSON(t *testing.T) {
	if got := ToJSON(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Fatalf("unexpected json: %s", got)
	}
	if got := ToJSON(make(chan int)); got != "" {
		t.Fatalf("unmarshalable value should give empty string, got %s", got)
	}
}
