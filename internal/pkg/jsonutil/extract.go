// Package jsonutil 从 agent 的自由文本回复中取出 JSON 负载。
package jsonutil

import (
	"bytes"
)

var codeFence = []byte("```")

// ExtractPayload 依次尝试：整体即 JSON、``` 代码块、首个配平的 {...} 或 [...]。
func ExtractPayload(raw []byte) ([]byte, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	if raw[0] == '{' || raw[0] == '[' {
		if out, ok := balanced(raw, 0); ok && len(out) == len(raw) {
			return out, true
		}
	}
	if block, ok := fenced(raw); ok {
		if out, ok := firstBalanced(block); ok {
			return out, true
		}
	}
	return firstBalanced(raw)
}

// fenced 返回第一个代码块的内容，跳过 ```json 这样的语言标记行。
func fenced(raw []byte) ([]byte, bool) {
	start := bytes.Index(raw, codeFence)
	if start == -1 {
		return nil, false
	}
	rest := raw[start+len(codeFence):]
	end := bytes.Index(rest, codeFence)
	if end == -1 {
		return nil, false
	}
	block := bytes.TrimLeft(rest[:end], "\r\n")
	if idx := bytes.IndexByte(block, '\n'); idx != -1 {
		if first := bytes.TrimSpace(block[:idx]); len(first) > 0 && !bytes.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = bytes.TrimSpace(block)
	return block, len(block) > 0
}

func firstBalanced(raw []byte) ([]byte, bool) {
	start := bytes.IndexAny(raw, "{[")
	if start == -1 {
		return nil, false
	}
	return balanced(raw, start)
}

// balanced 从 raw[start] 的括号开始扫描到与之配平的位置，忽略字符串内的括号。
func balanced(raw []byte, start int) ([]byte, bool) {
	var stack []byte
	inString, escape := false, false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return nil, false
}
