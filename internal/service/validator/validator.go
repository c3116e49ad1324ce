// Package validator 对生成的交互组件做结构校验。
//
// 组件必须是唯一的 <section class="knowledge-unit" id="..."> 容器，所有标签闭合，
// 样式与脚本不能泄漏到容器作用域之外。规则按固定顺序检查，第一条失败的规则决定诊断信息。
package validator

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vividoc/backend/internal/domain"
	"golang.org/x/net/html"
)

// 规则名称
const (
	RuleParse     = "parse"
	RuleContainer = "container"
	RuleRootTag   = "root_tag"
	RuleMarker    = "marker"
	RuleID        = "id"
	RuleUniqueID  = "unique_id"
	RuleClosed    = "closed"
	RuleStyleLeak = "style_leak"
	RuleJSLeak    = "script_leak"
)

const (
	RootTag     = "section"
	MarkerClass = "knowledge-unit"
)

// 无需闭合的空元素
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type rule struct {
	name  string
	check func(s *scan) string
}

// 规则顺序即诊断优先级
var rules = []rule{
	{RuleContainer, checkContainer},
	{RuleRootTag, func(s *scan) string {
		if s.roots[0] != RootTag {
			return fmt.Sprintf("Root element must be <%s>, found <%s>", RootTag, s.roots[0])
		}
		return ""
	}},
	{RuleMarker, func(s *scan) string {
		for _, c := range s.rootClasses {
			if c == MarkerClass {
				return ""
			}
		}
		return fmt.Sprintf("Root <%s> must have class '%s'", RootTag, MarkerClass)
	}},
	{RuleID, func(s *scan) string {
		if strings.TrimSpace(s.rootID) == "" {
			return fmt.Sprintf("Root <%s> must have an id attribute", RootTag)
		}
		return ""
	}},
	{RuleUniqueID, func(s *scan) string {
		if s.ids[s.rootID] > 1 {
			return fmt.Sprintf("Root id %q is used by %d elements, it must be unique", s.rootID, s.ids[s.rootID])
		}
		return ""
	}},
	{RuleClosed, func(s *scan) string {
		if len(s.unclosed) > 0 {
			return "Unclosed tags: " + strings.Join(s.unclosed, ", ")
		}
		if len(s.stray) > 0 {
			return "Unmatched closing tags: " + strings.Join(s.stray, ", ")
		}
		return ""
	}},
	{RuleStyleLeak, func(s *scan) string {
		for _, css := range s.styles {
			if msg := checkStyle(css, s.rootID); msg != "" {
				return msg
			}
		}
		return ""
	}},
	{RuleJSLeak, func(s *scan) string {
		for _, js := range s.scripts {
			if msg := checkScript(js); msg != "" {
				return msg
			}
		}
		for _, h := range s.handlers {
			if msg := checkHandler(h.attr, h.code); msg != "" {
				return msg
			}
		}
		return ""
	}},
}

func checkContainer(s *scan) string {
	switch {
	case len(s.roots) == 0:
		return "No root element found"
	case len(s.roots) > 1:
		return fmt.Sprintf("Expected exactly one top-level element, found %d (%s)", len(s.roots), strings.Join(s.roots, ", "))
	case s.outsideText != "":
		return fmt.Sprintf("Unexpected content outside the root element: %q", truncate(s.outsideText, 40))
	}
	return ""
}

// Validator 交互组件结构校验器，无状态，可并发使用
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate 返回是否通过及诊断信息；未通过时诊断信息一定非空
func (v *Validator) Validate(artifact string) (bool, string) {
	if verr := v.Check(artifact); verr != nil {
		return false, verr.Message
	}
	return true, ""
}

// Check 按顺序执行规则，返回第一条失败规则；解析异常同样作为校验失败返回
func (v *Validator) Check(artifact string) (verr *domain.ValidationError) {
	defer func() {
		if r := recover(); r != nil {
			verr = &domain.ValidationError{Rule: RuleParse, Message: fmt.Sprintf("HTML parsing error: %v", r)}
		}
	}()

	s, err := tokenize(artifact)
	if err != nil {
		return &domain.ValidationError{Rule: RuleParse, Message: fmt.Sprintf("HTML parsing error: %v", err)}
	}
	for _, r := range rules {
		if msg := r.check(s); msg != "" {
			return &domain.ValidationError{Rule: r.name, Message: msg}
		}
	}
	return nil
}

// scan 一次遍历收集到的结构信息
type scan struct {
	roots       []string
	outsideText string
	rootID      string
	rootClasses []string
	ids         map[string]int
	unclosed    []string
	stray       []string
	styles      []string
	scripts     []string
	handlers    []inlineHandler
}

// inlineHandler onclick 等事件属性中的脚本
type inlineHandler struct {
	attr string
	code string
}

func tokenize(artifact string) (*scan, error) {
	s := &scan{ids: make(map[string]int)}
	z := html.NewTokenizer(strings.NewReader(artifact))
	var stack []string

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				s.unclosed = append(s.unclosed, stack...)
				return s, nil
			}
			return nil, z.Err()

		case html.DoctypeToken:
			if s.outsideText == "" {
				s.outsideText = "<!DOCTYPE " + string(z.Text()) + ">"
			}

		case html.TextToken:
			text := string(z.Text())
			if len(stack) == 0 {
				if trimmed := strings.TrimSpace(text); trimmed != "" && s.outsideText == "" {
					s.outsideText = trimmed
				}
				continue
			}
			switch stack[len(stack)-1] {
			case "style":
				s.styles = append(s.styles, text)
			case "script":
				s.scripts = append(s.scripts, text)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if len(stack) == 0 {
				s.roots = append(s.roots, tok.Data)
				if len(s.roots) == 1 {
					for _, a := range tok.Attr {
						switch a.Key {
						case "id":
							s.rootID = a.Val
						case "class":
							s.rootClasses = strings.Fields(a.Val)
						}
					}
				}
			}
			for _, a := range tok.Attr {
				switch {
				case a.Key == "id" && a.Val != "":
					s.ids[a.Val]++
				case strings.HasPrefix(a.Key, "on") && strings.TrimSpace(a.Val) != "":
					s.handlers = append(s.handlers, inlineHandler{attr: a.Key, code: a.Val})
				}
			}
			if tt == html.StartTagToken && !voidElements[tok.Data] {
				stack = append(stack, tok.Data)
			}

		case html.EndTagToken:
			tok := z.Token()
			if voidElements[tok.Data] {
				continue
			}
			idx := lastIndex(stack, tok.Data)
			if idx < 0 {
				s.stray = append(s.stray, tok.Data)
				continue
			}
			// 被跳过的中间元素视为未闭合
			s.unclosed = append(s.unclosed, stack[idx+1:]...)
			stack = stack[:idx]
		}
	}
}

func lastIndex(stack []string, name string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return i
		}
	}
	return -1
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
