package validator

import (
	"strings"
	"testing"

	"github.com/vividoc/backend/internal/domain"
)

const validArtifact = `<section class="knowledge-unit" id="ku1">
  <style>
    #ku1 .slider { width: 100%; }
    #ku1 > p, #ku1:hover { color: red; }
    @media (max-width: 600px) { #ku1 .slider { width: 50%; } }
    @keyframes pulse { from { opacity: 0; } to { opacity: 1; } }
  </style>
  <p>拖动滑块<br>观察变化</p>
  <input type="range" class="slider">
  <img src="a.png" alt="">
  <script>
    (function () {
      const root = document.getElementById("ku1");
      let v = 0; // let at depth 1
      root.querySelector(".slider").addEventListener("input", function (e) {
        v = e.target.value;
      });
    })();
  </script>
</section>`

func TestValidateAcceptsScopedArtifact(t *testing.T) {
	v := New()
	ok, diag := v.Validate(validArtifact)
	if !ok {
		t.Fatalf("expected valid artifact, got diagnostic: %s", diag)
	}
	if diag != "" {
		t.Fatalf("diagnostic must be empty on success, got %q", diag)
	}
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name     string
		artifact string
		rule     string
		contains string
	}{
		{"empty", "   ", RuleContainer, "No root element"},
		{"two roots", `<section class="knowledge-unit" id="a"></section><div></div>`, RuleContainer, "exactly one"},
		{"stray text", `hello <section class="knowledge-unit" id="a"></section>`, RuleContainer, "outside the root"},
		{"doctype", `<!DOCTYPE html><section class="knowledge-unit" id="a"></section>`, RuleContainer, "outside the root"},
		{"wrong root", `<div class="knowledge-unit" id="a"></div>`, RuleRootTag, "found <div>"},
		{"no marker", `<section class="unit" id="a"></section>`, RuleMarker, "knowledge-unit"},
		{"no id", `<section class="knowledge-unit"></section>`, RuleID, "id attribute"},
		{"blank id", `<section class="knowledge-unit" id=" "></section>`, RuleID, "id attribute"},
		{"duplicate id", `<section class="knowledge-unit" id="a"><p id="a"></p></section>`, RuleUniqueID, "unique"},
		{"unclosed", `<section class="knowledge-unit" id="a"><div><span></section>`, RuleClosed, "Unclosed tags: div, span"},
		{"unclosed root", `<section class="knowledge-unit" id="a"><p>x</p>`, RuleClosed, "section"},
		{"stray end tag", `<section class="knowledge-unit" id="a"></div></section>`, RuleClosed, "Unmatched closing tags: div"},
		{"global css", `<section class="knowledge-unit" id="a"><style>p { color: red; }</style></section>`, RuleStyleLeak, `"p"`},
		{"prefix collision", `<section class="knowledge-unit" id="ku1"><style>#ku10 p { color: red; }</style></section>`, RuleStyleLeak, "#ku10"},
		{"global css in media", `<section class="knowledge-unit" id="a"><style>@media print { body { margin: 0; } }</style></section>`, RuleStyleLeak, "body"},
		{"one bad selector in list", `<section class="knowledge-unit" id="a"><style>#a p, h1 { color: red; }</style></section>`, RuleStyleLeak, "h1"},
		{"global var", `<section class="knowledge-unit" id="a"><script>var counter = 0;</script></section>`, RuleJSLeak, `var "counter"`},
		{"global function", `<section class="knowledge-unit" id="a"><script>function draw() {}</script></section>`, RuleJSLeak, `"draw"`},
		{"window assign", `<section class="knowledge-unit" id="a"><script>(() => { window.state = 1; })();</script></section>`, RuleJSLeak, "window.state"},
		{"globalThis assign", `<section class="knowledge-unit" id="a"><script>globalThis.x=2</script></section>`, RuleJSLeak, "globalThis.x"},
		{"global self assign", `<section class="knowledge-unit" id="a"><script>(function () { self.count = 1; })();</script></section>`, RuleJSLeak, "self.count"},
		{"implicit global", `<section class="knowledge-unit" id="a"><script>counter = 0;</script></section>`, RuleJSLeak, `undeclared global "counter"`},
		{"implicit global after call", `<section class="knowledge-unit" id="a"><script>init();
state = {};</script></section>`, RuleJSLeak, `"state"`},
		{"top level this", `<section class="knowledge-unit" id="a"><script>this.leaked = 1;</script></section>`, RuleJSLeak, "this.leaked"},
		{"inline handler global", `<section class="knowledge-unit" id="a"><button onclick="leaked = 1">go</button></section>`, RuleJSLeak, `onclick: Script assigns undeclared global "leaked"`},
		{"inline handler window", `<section class="knowledge-unit" id="a"><input oninput="window.v = this.value"></section>`, RuleJSLeak, "oninput"},
		{"var hidden behind regex quote", `<section class="knowledge-unit" id="a"><script>/'/.test(location.hash); var leaked = 1;</script></section>`, RuleJSLeak, `var "leaked"`},
		{"var hidden behind regex after paren", `<section class="knowledge-unit" id="a"><script>if (/["]/.test(s)) {} let leaked = 2;</script></section>`, RuleJSLeak, `let "leaked"`},
	}

	v := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verr := v.Check(tc.artifact)
			if verr == nil {
				t.Fatalf("expected rule %s to fail", tc.rule)
			}
			if verr.Rule != tc.rule {
				t.Fatalf("expected rule %s, got %s (%s)", tc.rule, verr.Rule, verr.Message)
			}
			if !strings.Contains(verr.Message, tc.contains) {
				t.Fatalf("diagnostic %q should contain %q", verr.Message, tc.contains)
			}
			ok, diag := v.Validate(tc.artifact)
			if ok || diag == "" {
				t.Fatalf("Validate must return false with a diagnostic, got %v %q", ok, diag)
			}
		})
	}
}

func TestValidateIgnoresKeywordsInStringsAndComments(t *testing.T) {
	artifact := `<section class="knowledge-unit" id="a"><script>
// var hidden = 1;
/* function nope() {} */
document.getElementById("a").textContent = "let x = 1; window.y = 2";
document.title === 'class';
</script></section>`
	if ok, diag := New().Validate(artifact); !ok {
		t.Fatalf("expected valid artifact, got: %s", diag)
	}
}

func TestValidateAcceptsLocalScriptState(t *testing.T) {
	artifacts := map[string]string{
		"local self": `<section class="knowledge-unit" id="a"><script>(function(){ const self = {}; self.count = 1; })();</script></section>`,
		"self this alias": `<section class="knowledge-unit" id="a"><script>(function () {
  var self = this;
  self.ready = true;
})();</script></section>`,
		"assignment inside iife": `<section class="knowledge-unit" id="a"><script>(() => { let n = 0; n = n + 1; })();</script></section>`,
		"comparisons at top level": `<section class="knowledge-unit" id="a"><script>if (document.title == "x" || location.hash === "#a") { console.log(1); }</script></section>`,
		"member write": `<section class="knowledge-unit" id="a"><script>document.getElementById("a").dataset.ready = "1";</script></section>`,
		"division": `<section class="knowledge-unit" id="a"><script>(function () { const w = (10 + 2) / 3, h = w / 2; })();</script></section>`,
		"regex with slash class": `<section class="knowledge-unit" id="a"><script>(function () { const re = /[/']+/g; re.test("a"); })();</script></section>`,
		"handler this": `<section class="knowledge-unit" id="a"><button onclick="this.classList.toggle('on')">go</button></section>`,
		"handler locals": `<section class="knowledge-unit" id="a"><input oninput="var v = this.value, n = 0; n = v.length; this.title = n"></section>`,
	}
	v := New()
	for name, artifact := range artifacts {
		t.Run(name, func(t *testing.T) {
			if ok, diag := v.Validate(artifact); !ok {
				t.Fatalf("expected valid artifact, got: %s", diag)
			}
		})
	}
}

func TestValidateCommentsAllowedEverywhere(t *testing.T) {
	artifact := `<!-- generated --><section class="knowledge-unit" id="a"><!-- body --></section>`
	if ok, diag := New().Validate(artifact); !ok {
		t.Fatalf("comments should not count as content: %s", diag)
	}
}

func TestValidateSelfClosingElements(t *testing.T) {
	artifact := `<section class="knowledge-unit" id="a"><svg><circle r="2"/></svg><br/></section>`
	if ok, diag := New().Validate(artifact); !ok {
		t.Fatalf("self closing tags should be accepted: %s", diag)
	}
}

func TestValidateNeverPanics(t *testing.T) {
	inputs := []string{
		"<", "</", "<<<>>>", "<section", `<section class="knowledge-unit" id="a"><style>{{{</style></section>`,
		"\x00\xff\xfe", `<section class="knowledge-unit" id="a"><script>'unterminated</script></section>`,
		strings.Repeat("<div>", 500),
	}
	v := New()
	for _, in := range inputs {
		ok, diag := v.Validate(in)
		if ok {
			continue
		}
		if diag == "" {
			t.Fatalf("rejected input %q without diagnostic", in)
		}
	}
}

func TestValidatorSatisfiesInterface(t *testing.T) {
	var _ domain.StructuralValidator = New()
}
