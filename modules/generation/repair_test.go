package generation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepairJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "already valid", in: `{"a":1}`, want: `{"a":1}`},
		{name: "code fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "leading prose", in: `Here you go: {"a":[1,2]}`, want: `{"a":[1,2]}`},
		{name: "trailing commas", in: `{"a":[1,2,],"b":2,}`, want: `{"a":[1,2],"b":2}`},
		{name: "truncated string", in: `{"scene":{"context":"a dark ro`, want: `{"scene":{"context":"a dark ro"}}`},
		{name: "truncated after colon", in: `{"a":1,"b":`, want: `{"a":1,"b":null}`},
		{name: "truncated after comma", in: `{"a":[1,2,`, want: `{"a":[1,2]}`},
		{name: "dangling escape", in: `{"a":"x\`, want: `{"a":"x"}`},
		{name: "brace inside string", in: `{"a":"}{","b":[`, want: `{"a":"}{","b":[]}`},
		{name: "trailing garbage", in: `{"a":1} thanks!`, want: `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RepairJSON(tc.in)
			require.Equal(t, tc.want, got)
			require.True(t, json.Valid([]byte(got)), got)
		})
	}
}

func TestResultRepair(t *testing.T) {
	raw := `{"scene":{"context":"diner at night"},"character":{"name":"Max","behavior":"drinks cof`
	_, err := DecodeStructuredPrompt(raw)
	require.Error(t, err)

	res := ParseFailure(raw, err, usageFixture, DecodeStructuredPrompt).Repair()
	require.True(t, res.Ok())
	require.True(t, res.Repaired)
	require.Equal(t, "Max", res.Value.Character.Name)
	require.Equal(t, "drinks cof", res.Value.Character.Behavior)
	require.Equal(t, usageFixture, res.Usage)
}

func TestResultRepair_StillInvalid(t *testing.T) {
	raw := `{"camera":{"shot":"wide"`
	_, err := DecodeStructuredPrompt(raw)
	require.Error(t, err)

	res := ParseFailure(raw, err, usageFixture, DecodeStructuredPrompt).Repair()
	require.Equal(t, ResultParseError, res.Kind)
	require.Contains(t, res.Error(), "scene.context is required")

	// 두 번째 복구는 시도하지 않는다
	again := res.Repair()
	require.Equal(t, res.Raw, again.Raw)
	require.Equal(t, ResultParseError, again.Kind)
}

func TestResultRepair_IgnoresOtherKinds(t *testing.T) {
	ok := OK("x", usageFixture).Repair()
	require.True(t, ok.Ok())
	require.False(t, ok.Repaired)

	failed := CallError[string](errBoom, usageFixture).Repair()
	require.Equal(t, ResultCallError, failed.Kind)
	require.Equal(t, "boom", failed.Error())
}
