package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"incredible-cli/internal/llm"
	"incredible-cli/internal/schema"
)

func longTranscript() []schema.Message {
	return []schema.Message{
		schema.NewUserMessage("first question about the weather"),
		schema.NewFunctionCall("call_1", []schema.FunctionInvocation{
			{Name: "get_weather", Input: map[string]any{"city": "Tokyo"}},
		}),
		schema.NewFunctionResult("call_1", []any{"Sunny in Tokyo"}),
		schema.NewAssistantMessage("It is sunny in Tokyo."),
		schema.NewUserMessage("second question, still running"),
		schema.NewFunctionCall("call_2", []schema.FunctionInvocation{
			{Name: "get_weather", Input: map[string]any{"city": "Paris"}},
		}),
		schema.NewFunctionResult("call_2", []any{"Rainy in Paris"}),
	}
}

func TestCompactUnderLimitUnchanged(t *testing.T) {
	client := &scriptedClient{}
	s := NewSummarizer(client, 1_000_000)

	messages := longTranscript()
	out, err := s.Compact(context.Background(), messages)
	require.NoError(t, err)
	require.Equal(t, messages, out)
	require.Equal(t, 0, client.requestCount(), "no summary request when under limit")
}

func TestCompactReplacesCompletedRounds(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		textCompletion("Checked Tokyo weather, result was sunny."),
	}}
	s := NewSummarizer(client, 1)

	out, err := s.Compact(context.Background(), longTranscript())
	require.NoError(t, err)
	require.Equal(t, 1, client.requestCount())

	// 第一回合被摘要取代
	require.Equal(t, schema.KindUser, out[0].Kind())
	require.Equal(t, schema.KindUser, out[1].Kind())
	require.True(t, strings.HasPrefix(out[1].Content, "[Execution Summary]"))
	require.Contains(t, out[1].Content, "sunny")

	// 进行中的末尾回合原样保留
	tail := out[len(out)-3:]
	require.Equal(t, schema.KindUser, tail[0].Kind())
	require.Equal(t, schema.KindFunctionCall, tail[1].Kind())
	require.Equal(t, schema.KindFunctionResult, tail[2].Kind())
	require.Equal(t, "call_2", tail[2].FunctionCallID)
}

func TestCompactSummaryFailureKeepsSpan(t *testing.T) {
	client := &scriptedClient{completeErr: &llm.TransportError{StatusCode: 500}}
	s := NewSummarizer(client, 1)

	messages := longTranscript()
	out, err := s.Compact(context.Background(), messages)
	require.NoError(t, err, "summary failure is non-fatal")
	require.Equal(t, messages, out)
}
