package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// 需要递归检查内部规则的 at-rule
var nestedAtRules = map[string]bool{
	"media":     true,
	"supports":  true,
	"container": true,
	"layer":     true,
}

// checkStyle 检查 <style> 中的每个选择器都限定在 #scope 之下
func checkStyle(css, scope string) string {
	return checkRules(stripCSSComments(css), "#"+scope)
}

func checkRules(css, prefix string) string {
	i := 0
	for i < len(css) {
		open := strings.IndexByte(css[i:], '{')
		if open < 0 {
			break
		}
		open += i
		end := matchBrace(css, open)
		if end < 0 {
			return "Unbalanced braces in <style>"
		}

		prelude := css[i:open]
		// 前面可能残留 @import/@charset 等以分号结束的语句
		if k := strings.LastIndexByte(prelude, ';'); k >= 0 {
			prelude = prelude[k+1:]
		}
		prelude = strings.TrimSpace(prelude)
		body := css[open+1 : end]

		if strings.HasPrefix(prelude, "@") {
			if nestedAtRules[atRuleName(prelude)] {
				if msg := checkRules(body, prefix); msg != "" {
					return msg
				}
			}
		} else {
			for _, sel := range strings.Split(prelude, ",") {
				sel = strings.TrimSpace(sel)
				if sel == "" {
					continue
				}
				if !scopedSelector(sel, prefix) {
					return fmt.Sprintf("Style selector %q is not scoped to %s", sel, prefix)
				}
			}
		}
		i = end + 1
	}
	return ""
}

func scopedSelector(sel, prefix string) bool {
	if !strings.HasPrefix(sel, prefix) {
		return false
	}
	rest := sel[len(prefix):]
	// #ku1 可以接组合符、类、伪类，但 #ku10 不算 #ku1
	return rest == "" || !isIdentChar(rest[0])
}

func atRuleName(prelude string) string {
	name := strings.TrimPrefix(prelude, "@")
	for j := 0; j < len(name); j++ {
		if !isIdentChar(name[j]) {
			name = name[:j]
			break
		}
	}
	// @-webkit-keyframes 之类带厂商前缀的同样不需要检查
	return strings.ToLower(name)
}

func matchBrace(s string, open int) int {
	depth := 0
	for j := open; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func stripCSSComments(css string) string {
	var b strings.Builder
	for {
		start := strings.Index(css, "/*")
		if start < 0 {
			b.WriteString(css)
			return b.String()
		}
		b.WriteString(css[:start])
		end := strings.Index(css[start+2:], "*/")
		if end < 0 {
			return b.String()
		}
		css = css[start+2+end+2:]
	}
}

// 全局声明关键字
var declKeywords = map[string]bool{
	"var":      true,
	"let":      true,
	"const":    true,
	"function": true,
	"class":    true,
}

var (
	globalAssign = regexp.MustCompile(`\b(window|globalThis|self)\s*\.\s*([A-Za-z_$][\w$]*)\s*=([^=]|$)`)
	localSelf    = regexp.MustCompile(`\b(?:var|let|const)\s+self\b`)
	memberAssign = regexp.MustCompile(`^\s*\.\s*([A-Za-z_$][\w$]*)\s*=([^=]|$)`)
)

// checkScript 检查 <script> 没有在顶层引入标识符，也没有向全局对象写属性
func checkScript(src string) string {
	return scanScript(stripJSCommentsAndStrings(src), false)
}

// checkHandler 检查 on* 内联事件属性；处理函数体自成作用域，可以声明局部变量
func checkHandler(attr, src string) string {
	if msg := scanScript(stripJSCommentsAndStrings(src), true); msg != "" {
		return fmt.Sprintf("Inline handler %s: %s", attr, msg)
	}
	return ""
}

// globalWrite 查找 window/globalThis/self 上的属性赋值；局部声明了 self 时不算
func globalWrite(code string) string {
	selfIsLocal := localSelf.MatchString(code)
	for _, m := range globalAssign.FindAllStringSubmatch(code, -1) {
		if m[1] == "self" && selfIsLocal {
			continue
		}
		return fmt.Sprintf("Script assigns global property %s.%s", m[1], m[2])
	}
	return ""
}

func scanScript(code string, handler bool) string {
	if msg := globalWrite(code); msg != "" {
		return msg
	}
	var declared map[string]bool
	if handler {
		declared = topLevelDecls(code)
	}

	depth := 0
	for i := 0; i < len(code); {
		c := code[i]
		switch c {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		}
		if isIdentStart(c) && (i == 0 || !isJSIdentChar(code[i-1])) {
			j := i
			for j < len(code) && isJSIdentChar(code[j]) {
				j++
			}
			word := code[i:j]
			if depth == 0 && !afterDot(code, i) {
				switch {
				case declKeywords[word]:
					if !handler {
						return fmt.Sprintf("Script declares %s %q at global scope", word, nextIdent(code[j:]))
					}
				case word == "this":
					// 内联处理函数中 this 指向元素
					if m := memberAssign.FindStringSubmatch(code[j:]); m != nil && !handler {
						return fmt.Sprintf("Script assigns global property this.%s", m[1])
					}
				case plainAssign(code[j:]) && !declared[word]:
					return fmt.Sprintf("Script assigns undeclared global %q", word)
				}
			}
			i = j
			continue
		}
		i++
	}
	return ""
}

// plainAssign 判断标识符后面是否紧跟单个 =，排除 == 与 =>
func plainAssign(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if len(rest) == 0 || rest[0] != '=' {
		return false
	}
	return len(rest) == 1 || (rest[1] != '=' && rest[1] != '>')
}

// topLevelDecls 收集顶层 var/let/const/function/class 声明的名字，逗号分隔的多个声明都会记录
func topLevelDecls(code string) map[string]bool {
	names := make(map[string]bool)
	depth := 0
	inDecl, expectName := false, false
	for i := 0; i < len(code); {
		c := code[i]
		if isIdentStart(c) && (i == 0 || !isJSIdentChar(code[i-1])) {
			j := i
			for j < len(code) && isJSIdentChar(code[j]) {
				j++
			}
			word := code[i:j]
			if depth == 0 {
				switch {
				case declKeywords[word] && !afterDot(code, i):
					inDecl = word == "var" || word == "let" || word == "const"
					expectName = true
				case expectName:
					names[word] = true
					expectName = false
				}
			}
			i = j
			continue
		}
		switch c {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		}
		if depth == 0 {
			switch c {
			case ',':
				expectName = inDecl
			case ';':
				inDecl, expectName = false, false
			case ' ', '\t', '\r', '\n':
			default:
				expectName = false
			}
		}
		i++
	}
	return names
}

func afterDot(code string, i int) bool {
	for k := i - 1; k >= 0; k-- {
		switch code[k] {
		case ' ', '\t', '\n', '\r':
			continue
		case '.':
			return true
		default:
			return false
		}
	}
	return false
}

func nextIdent(s string) string {
	s = strings.TrimLeft(s, " \t\r\n*")
	j := 0
	for j < len(s) && isJSIdentChar(s[j]) {
		j++
	}
	if j == 0 {
		return "(anonymous)"
	}
	return s[:j]
}

// stripJSCommentsAndStrings 去掉注释，字符串、模板与正则字面量替换为空串，保留代码结构
func stripJSCommentsAndStrings(src string) string {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			out = append(out, '\n')
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return string(out)
			}
			i += 2 + end + 1
			out = append(out, ' ')
		case c == '/' && regexAllowed(out):
			end, ok := skipRegex(src, i)
			if !ok {
				out = append(out, c)
				continue
			}
			i = end
			out = append(out, '"', '"')
		case c == '\'' || c == '"' || c == '`':
			quote := c
			i++
			for i < len(src) && src[i] != quote {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			out = append(out, quote, quote)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// regexAllowed 根据前一个有效记号判断 / 是正则字面量的开始还是除号
func regexAllowed(out []byte) bool {
	k := len(out) - 1
	for k >= 0 && (out[k] == ' ' || out[k] == '\t' || out[k] == '\r' || out[k] == '\n') {
		k--
	}
	if k < 0 {
		return true
	}
	switch out[k] {
	case '(', ',', '=', ';', ':', '[', '!', '&', '|', '?', '{', '}', '+', '-', '*', '%', '<', '>', '~', '^':
		return true
	}
	if !isJSIdentChar(out[k]) {
		return false
	}
	j := k
	for j >= 0 && isJSIdentChar(out[j]) {
		j--
	}
	switch string(out[j+1 : k+1]) {
	case "return", "typeof", "case", "in", "of", "void", "delete":
		return true
	}
	return false
}

// skipRegex 跳过从 start 开始的正则字面量及其标志，返回最后一个字符的下标；遇到换行视为不是正则
func skipRegex(src string, start int) (int, bool) {
	inClass := false
	for k := start + 1; k < len(src); k++ {
		switch src[k] {
		case '\\':
			k++
		case '\n':
			return 0, false
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if inClass {
				continue
			}
			for k+1 < len(src) && isJSIdentChar(src[k+1]) {
				k++
			}
			return k, true
		}
	}
	return 0, false
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isJSIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// CSS 标识符允许连字符
func isIdentChar(c byte) bool {
	return isJSIdentChar(c) || c == '-'
}
