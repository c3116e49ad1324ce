package utils

import (
	"encoding/json"
	"strings"

	"k8s.io/klog/v2"
)

// ExtractJSON 从模型输出中提取第一个完整的 JSON 对象
// 字符串内的花括号不参与计数；找不到时返回原始内容
func ExtractJSON(content string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return content[start : i+1]
			}
		}
	}
	return content
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

// ExtractCodeBlock 提取第一个 ```lang ... ``` 代码块的内容
// lang 为空时匹配任意语言标识；没有代码块时返回去掉首尾空白的原始内容
func ExtractCodeBlock(content, lang string) string {
	if block, ok := findCodeBlock(content, lang); ok {
		return block
	}
	return strings.TrimSpace(content)
}

// ExtractHTML 去掉模型输出外层的代码块，优先 ```html
func ExtractHTML(content string) string {
	if block, ok := findCodeBlock(content, "html"); ok {
		return block
	}
	return ExtractCodeBlock(content, "")
}

func findCodeBlock(content, lang string) (string, bool) {
	const fence = "```"
	search := 0
	for {
		idx := strings.Index(content[search:], fence)
		if idx < 0 {
			return "", false
		}
		open := search + idx
		lineEnd := strings.IndexByte(content[open:], '\n')
		if lineEnd < 0 {
			return "", false
		}
		tag := strings.ToLower(strings.TrimSpace(content[open+len(fence) : open+lineEnd]))
		bodyStart := open + lineEnd + 1
		closeIdx := strings.Index(content[bodyStart:], fence)
		match := lang == "" || tag == lang
		if closeIdx < 0 {
			// 输出被截断时只有开头的 fence
			if match {
				return strings.TrimSpace(content[bodyStart:]), true
			}
			return "", false
		}
		if match {
			klog.V(8).Infof("[findCodeBlock] 提取到 %q 代码块，起始位置: %d", tag, bodyStart)
			return strings.TrimSpace(content[bodyStart : bodyStart+closeIdx]), true
		}
		search = bodyStart + closeIdx + len(fence)
	}
}
