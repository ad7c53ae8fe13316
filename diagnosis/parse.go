package diagnosis

import (
	"encoding/json"
	"strings"
)

// Analysis is the structured LLM output, always carrying technical_indicators.
type Analysis map[string]any

// 解析失败时的占位内容
const (
	UnparsedTrend      = "无法解析"
	UnparsedSuggestion = "请查看综合分析"
	DefaultConfidence  = 0.5
	excerptRunes       = 200
)

// Horizons are the per-horizon blocks of an analysis.
var Horizons = []string{"daily", "weekly", "longterm"}

// ParseAnalysis decodes the first balanced {...} span that is a JSON object.
// It reports false when the response holds no such span.
func ParseAnalysis(response string) (Analysis, bool) {
	for start := strings.IndexByte(response, '{'); start >= 0; {
		if end := matchBrace(response, start); end > start {
			var out Analysis
			if err := json.Unmarshal([]byte(response[start:end+1]), &out); err == nil {
				return out, true
			}
		}
		next := strings.IndexByte(response[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing s[start], skipping
// braces inside JSON strings, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Degraded builds the fallback payload for an unparsable response.
func Degraded(response string) Analysis {
	reason := excerpt(response, excerptRunes)
	out := Analysis{"summary": response}
	for _, h := range Horizons {
		out[h] = map[string]any{
			"trend":      UnparsedTrend,
			"suggestion": UnparsedSuggestion,
			"confidence": DefaultConfidence,
			"reason":     reason,
		}
	}
	return out
}

// ParseOrDegrade never fails; degraded reports whether the fallback was used.
func ParseOrDegrade(response string) (a Analysis, degraded bool) {
	if a, ok := ParseAnalysis(response); ok {
		return a, false
	}
	return Degraded(response), true
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
