package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RepairJSON - 잘린/지저분한 JSON 응답을 한 번 복구한다.
//   - 코드 펜스(```json)와 앞쪽 설명 문장 제거
//   - 닫는 괄호 앞의 trailing comma 제거
//   - 닫히지 않은 문자열과 괄호를 열린 순서의 역순으로 닫기
//
// 최상위 값이 끝난 뒤의 텍스트는 버린다.
func RepairJSON(raw string) string {
	s := stripCodeFence(strings.TrimSpace(raw))
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}

	out := make([]byte, 0, len(s)+8)
	stack := []byte{}
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				continue
			}
			stack = stack[:len(stack)-1]
			out = trimTrailingComma(out)
		}
		out = append(out, c)

		if len(stack) == 0 && (c == '}' || c == ']') {
			break
		}
	}

	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}

	out = bytes.TrimRight(out, " \t\r\n")
	if len(out) > 0 && out[len(out)-1] == ':' {
		out = append(out, "null"...)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = trimTrailingComma(out)
		out = append(out, stack[i])
	}
	return string(out)
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func trimTrailingComma(out []byte) []byte {
	out = bytes.TrimRight(out, " \t\r\n")
	for len(out) > 0 && out[len(out)-1] == ',' {
		out = bytes.TrimRight(out[:len(out)-1], " \t\r\n")
	}
	return out
}

// decodeJSON - 엄격한 JSON 디코딩 후 검증
func decodeJSON[T any](raw string, validate func(*T) error) (T, error) {
	var value T
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return value, fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return value, fmt.Errorf("invalid JSON: %w", err)
	}
	if validate != nil {
		if err := validate(&value); err != nil {
			return value, err
		}
	}
	return value, nil
}
