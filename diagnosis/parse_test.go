package diagnosis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		response string
		summary  string
	}{
		{"bare object", `{"summary":"a"}`, "a"},
		{"fenced", "```json\n{\"summary\":\"b\"}\n```", "b"},
		{"surrounding prose", "分析如下：{\"summary\":\"c\",\"daily\":{\"trend\":\"看涨\"}} 以上。", "c"},
		{"brace inside string", `{"summary":"区间 {10,12} 震荡"}`, "区间 {10,12} 震荡"},
		{"escaped quote", `{"summary":"他说\"{\""}`, `他说"{"`},
		{"invalid span then valid", `{not json} {"summary":"d"}`, "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := ParseAnalysis(tt.response)
			require.True(t, ok)
			assert.Equal(t, tt.summary, a["summary"])
		})
	}
}

func TestParseAnalysisRejects(t *testing.T) {
	for _, resp := range []string{"", "没有JSON", "{\"summary\": \"unterminated\"", "[1,2,3]"} {
		_, ok := ParseAnalysis(resp)
		assert.False(t, ok, resp)
	}
}

func TestDegradedPayload(t *testing.T) {
	long := strings.Repeat("行情", 150)
	a, degraded := ParseOrDegrade(long)
	require.True(t, degraded)

	assert.Equal(t, long, a["summary"])
	var first map[string]any
	for _, h := range Horizons {
		block := a[h].(map[string]any)
		assert.Equal(t, UnparsedTrend, block["trend"])
		assert.Equal(t, UnparsedSuggestion, block["suggestion"])
		assert.Equal(t, 0.5, block["confidence"])
		reason := block["reason"].(string)
		assert.Equal(t, excerptRunes, utf8.RuneCountInString(reason))
		assert.True(t, strings.HasPrefix(long, reason))
		if first == nil {
			first = block
		}
		assert.Equal(t, first, block)
	}

	short, degraded := ParseOrDegrade("短")
	require.True(t, degraded)
	assert.Equal(t, "短", short["daily"].(map[string]any)["reason"])
}
