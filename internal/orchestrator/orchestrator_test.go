package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"incredible-cli/internal/functions"
	"incredible-cli/internal/llm"
	"incredible-cli/internal/schema"
)

//
// ---------------------------------------------------------
// Helper: 按脚本回放的模型桩
// ---------------------------------------------------------
//

type scriptedClient struct {
	mu          sync.Mutex
	completions []*llm.Completion
	repeatLast  bool
	completeErr error
	chunks      []string
	requests    []*schema.CompletionRequest
	streamCalls int
}

func (c *scriptedClient) NewRequest(system string, messages []schema.Message, fns []schema.FunctionSchema) *schema.CompletionRequest {
	return &schema.CompletionRequest{
		Model:     "stub-1",
		System:    system,
		Messages:  messages,
		Functions: fns,
	}
}

func (c *scriptedClient) Complete(ctx context.Context, body *schema.CompletionRequest) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, body)
	if c.completeErr != nil {
		return nil, c.completeErr
	}
	if len(c.completions) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}

	next := c.completions[0]
	if len(c.completions) > 1 || !c.repeatLast {
		c.completions = c.completions[1:]
	}
	return next, nil
}

func (c *scriptedClient) Stream(ctx context.Context, body *schema.CompletionRequest) (*llm.StreamResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, body)
	c.streamCalls++

	ch := make(chan llm.Chunk, len(c.chunks))
	for _, t := range c.chunks {
		ch <- llm.Chunk{Text: t}
	}
	close(ch)
	return &llm.StreamResponse{Chunks: ch}, nil
}

func (c *scriptedClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func textCompletion(content string) *llm.Completion {
	m := schema.NewAssistantMessage(content)
	return &llm.Completion{Assistant: &m}
}

func callCompletion(callID string, invs ...schema.FunctionInvocation) *llm.Completion {
	m := schema.NewFunctionCall(callID, invs)
	return &llm.Completion{Call: &m}
}

func weatherCatalogAndRegistry(t *testing.T) ([]schema.FunctionSchema, *functions.Registry) {
	t.Helper()
	reg := functions.NewRegistry()
	require.NoError(t, reg.Register(functions.New(
		"get_weather", "Get weather of a city",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []string{"city"},
		},
		func(ctx context.Context, input map[string]any) (any, error) {
			return "Sunny in " + input["city"].(string), nil
		},
	)))
	return reg.Schemas(), reg
}

//
// ---------------------------------------------------------
// Test: 纯文本响应一次终结
// ---------------------------------------------------------
//

func TestRunPlainTextAnswer(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		textCompletion("The sky is blue."),
	}}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "What color is the sky?")
	require.NoError(t, err)
	require.Equal(t, "The sky is blue.", result.Answer)
	require.Equal(t, 0, result.Steps)
	require.Equal(t, 1, client.requestCount(), "plain text answer must take exactly 1 request")
	require.NoError(t, schema.ValidateTranscript(result.Transcript))
}

//
// ---------------------------------------------------------
// Test: 完整的函数调用往返
// ---------------------------------------------------------
//

func TestRunFunctionCallRoundTrip(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		callCompletion("call_1", schema.FunctionInvocation{
			Name:  "get_weather",
			Input: map[string]any{"city": "Tokyo"},
		}),
		textCompletion("It is sunny in Tokyo."),
	}}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "Weather in Tokyo?")
	require.NoError(t, err)
	require.Equal(t, "It is sunny in Tokyo.", result.Answer)
	require.Equal(t, 1, result.Steps)
	require.Equal(t, 2, client.requestCount())

	// 转录：user, function_call, function_call_result, assistant
	require.NoError(t, schema.ValidateTranscript(result.Transcript))
	require.Len(t, result.Transcript, 4)
	require.Equal(t, schema.KindFunctionCall, result.Transcript[1].Kind())
	require.Equal(t, schema.KindFunctionResult, result.Transcript[2].Kind())
	require.Equal(t, "call_1", result.Transcript[2].FunctionCallID)
	require.Equal(t, []any{"Sunny in Tokyo"}, result.Transcript[2].FunctionCallResults)

	// 第二次请求必须携带函数结果与目录
	second := client.requests[1]
	require.Len(t, second.Functions, 1)
	require.Equal(t, "get_weather", second.Functions[0].Name)
	require.Equal(t, schema.KindFunctionResult, second.Messages[2].Kind())
}

//
// ---------------------------------------------------------
// Test: 回合预算安全阀
// ---------------------------------------------------------
//

func TestRunStepBudgetExceeded(t *testing.T) {
	// 模型永远要求再调一次函数
	client := &scriptedClient{
		completions: []*llm.Completion{
			callCompletion("call_loop", schema.FunctionInvocation{
				Name:  "get_weather",
				Input: map[string]any{"city": "Loopville"},
			}),
		},
		repeatLast: true,
	}
	catalog, reg := weatherCatalogAndRegistry(t)

	dispatches := 0
	orch, err := New(client, reg, catalog,
		WithStepBudget(3),
		WithOnFunctionCall(func(name string, input map[string]any) { dispatches++ }),
	)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "loop forever")
	var budgetErr *StepBudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, 3, budgetErr.Steps)
	require.Equal(t, 3, dispatches, "exactly 3 dispatch rounds, never 4")
	require.Equal(t, 3, client.requestCount())

	// 诊断用转录完整且无悬空调用
	require.NotEmpty(t, budgetErr.Transcript)
	require.NoError(t, schema.ValidateTranscript(budgetErr.Transcript))
}

//
// ---------------------------------------------------------
// Test: 未知函数不致命
// ---------------------------------------------------------
//

func TestRunUnknownFunctionContinues(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		callCompletion("call_1", schema.FunctionInvocation{
			Name:  "summon_dragon",
			Input: map[string]any{},
		}),
		textCompletion("Sorry, I cannot summon dragons."),
	}}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "summon a dragon")
	require.NoError(t, err, "unknown function must not abort the run")
	require.Equal(t, "Sorry, I cannot summon dragons.", result.Answer)

	tag, ok := schema.ErrorTag(result.Transcript[2].FunctionCallResults[0])
	require.True(t, ok)
	require.Equal(t, schema.ErrTagUnknownFunction, tag)
}

//
// ---------------------------------------------------------
// Test: k 个调用 k 个结果，按调用顺序组装
// ---------------------------------------------------------
//

type slowDispatcher struct{}

func (slowDispatcher) Invoke(ctx context.Context, name string, input map[string]any) any {
	// 越靠前的调用睡得越久，乱序完成
	if d, ok := input["delay_ms"].(float64); ok {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}
	return "result:" + name
}

func TestRunParallelDispatchPreservesOrder(t *testing.T) {
	invs := []schema.FunctionInvocation{
		{Name: "first", Input: map[string]any{"delay_ms": 30.0}},
		{Name: "second", Input: map[string]any{"delay_ms": 15.0}},
		{Name: "third", Input: map[string]any{"delay_ms": 1.0}},
	}
	client := &scriptedClient{completions: []*llm.Completion{
		callCompletion("call_par", invs...),
		textCompletion("done"),
	}}

	catalog := []schema.FunctionSchema{
		{Name: "first"}, {Name: "second"}, {Name: "third"},
	}
	orch, err := New(client, slowDispatcher{}, catalog, WithMaxParallel(3))
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "run all three")
	require.NoError(t, err)

	resultMsg := result.Transcript[2]
	require.Equal(t, schema.KindFunctionResult, resultMsg.Kind())
	require.Len(t, resultMsg.FunctionCallResults, len(invs))
	require.Equal(t,
		[]any{"result:first", "result:second", "result:third"},
		resultMsg.FunctionCallResults)
}

//
// ---------------------------------------------------------
// Test: 传输错误立即中止，不消耗回合
// ---------------------------------------------------------
//

func TestRunTransportErrorAborts(t *testing.T) {
	client := &scriptedClient{
		completeErr: &llm.TransportError{StatusCode: 502, Body: "bad gateway"},
	}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "hi")
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 0, orch.Session().Steps())
}

//
// ---------------------------------------------------------
// Test: 取消后不再发起请求
// ---------------------------------------------------------
//

func TestRunCancelledBeforeRequest(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{textCompletion("never")}}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = orch.Run(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, client.requestCount())
}

//
// ---------------------------------------------------------
// Test: 纯对话流式消费
// ---------------------------------------------------------
//

func TestRunStreamingPlainChat(t *testing.T) {
	client := &scriptedClient{chunks: []string{"Hel", "lo", " world"}}

	var fragments []string
	orch, err := New(client, nil, nil,
		WithStreaming(true),
		WithOnText(func(text string) { fragments = append(fragments, text) }),
	)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "say hello")
	require.NoError(t, err)
	require.Equal(t, "Hello world", result.Answer)
	require.Equal(t, []string{"Hel", "lo", " world"}, fragments)
	require.Equal(t, 1, client.streamCalls)
}

//
// ---------------------------------------------------------
// Test: assistant 与 function_call 同时出现
// ---------------------------------------------------------
//

func TestRunAssistantAlongsideCall(t *testing.T) {
	assistant := schema.NewAssistantMessage("let me check the weather")
	call := schema.NewFunctionCall("call_1", []schema.FunctionInvocation{
		{Name: "get_weather", Input: map[string]any{"city": "Paris"}},
	})
	client := &scriptedClient{completions: []*llm.Completion{
		{Assistant: &assistant, Call: &call},
		textCompletion("Sunny in Paris today."),
	}}
	catalog, reg := weatherCatalogAndRegistry(t)

	orch, err := New(client, reg, catalog)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "Paris weather?")
	require.NoError(t, err)

	// assistant 文本排在 function_call 之前
	require.Equal(t, schema.KindAssistant, result.Transcript[1].Kind())
	require.Equal(t, schema.KindFunctionCall, result.Transcript[2].Kind())
	require.Equal(t, schema.KindFunctionResult, result.Transcript[3].Kind())
	require.NoError(t, schema.ValidateTranscript(result.Transcript))
}

//
// ---------------------------------------------------------
// Test: 会话跨 Run 持续，Reset 清空
// ---------------------------------------------------------
//

func TestSessionPersistsAcrossRuns(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		textCompletion("first answer"),
		textCompletion("second answer"),
	}}

	orch, err := New(client, nil, nil)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "first question")
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "second question")
	require.NoError(t, err)

	// 第二次请求携带完整历史
	require.Len(t, result.Transcript, 4)
	require.Len(t, client.requests[1].Messages, 3)

	oldID := orch.Session().ID
	orch.Reset()
	require.NotEqual(t, oldID, orch.Session().ID)
	require.Empty(t, orch.Session().Transcript())
}

//
// ---------------------------------------------------------
// Test: 目录校验
// ---------------------------------------------------------
//

func TestNewRejectsBadCatalog(t *testing.T) {
	client := &scriptedClient{}
	_, reg := weatherCatalogAndRegistry(t)

	dup := []schema.FunctionSchema{{Name: "f"}, {Name: "f"}}
	_, err := New(client, reg, dup)
	require.Error(t, err)

	_, err = New(nil, reg, nil)
	require.Error(t, err)

	_, err = New(client, nil, []schema.FunctionSchema{{Name: "f"}})
	require.Error(t, err)
}

//
// ---------------------------------------------------------
// Test: dispatcher panic 折叠为错误结果
// ---------------------------------------------------------
//

type panickyDispatcher struct{}

func (panickyDispatcher) Invoke(ctx context.Context, name string, input map[string]any) any {
	panic(errors.New("dispatcher exploded"))
}

func TestRunDispatcherPanicFoldsToResult(t *testing.T) {
	client := &scriptedClient{completions: []*llm.Completion{
		callCompletion("call_1", schema.FunctionInvocation{Name: "anything", Input: map[string]any{}}),
		textCompletion("recovered"),
	}}

	orch, err := New(client, panickyDispatcher{}, []schema.FunctionSchema{{Name: "anything"}})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "go")
	require.NoError(t, err)

	tag, ok := schema.ErrorTag(result.Transcript[2].FunctionCallResults[0])
	require.True(t, ok)
	require.Equal(t, schema.ErrTagFunctionError, tag)
}
