package schema

import "fmt"

//
// ============================================================
// 消息变体（转录中的一条记录）
// ============================================================
//

// 消息种类
type Kind string

const (
	KindUser           Kind = "user"
	KindAssistant      Kind = "assistant"
	KindFunctionCall   Kind = "function_call"
	KindFunctionResult Kind = "function_call_result"
	KindUnknown        Kind = "unknown"
)

// FunctionInvocation 模型请求执行的一次函数调用
type FunctionInvocation struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Message 对话消息。四种变体共用一个结构：
// role 区分 user/assistant，type 区分 function_call/function_call_result，
// omitempty 保证序列化时只输出当前变体的字段。
type Message struct {
	// role 变体
	Role    string `json:"role,omitempty"` // "user" / "assistant"
	Content string `json:"content,omitempty"`

	// type 变体
	Type                string               `json:"type,omitempty"` // "function_call" / "function_call_result"
	FunctionCallID      string               `json:"function_call_id,omitempty"`
	FunctionCalls       []FunctionInvocation `json:"function_calls,omitempty"`
	FunctionCallResults []any                `json:"function_call_results,omitempty"`
}

// Kind 返回消息的变体种类
func (m *Message) Kind() Kind {
	switch {
	case m.Type == string(KindFunctionCall):
		return KindFunctionCall
	case m.Type == string(KindFunctionResult):
		return KindFunctionResult
	case m.Role == string(KindUser):
		return KindUser
	case m.Role == string(KindAssistant):
		return KindAssistant
	}
	return KindUnknown
}

// NewUserMessage 创建 user 消息
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage 创建 assistant 消息
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewFunctionCall 创建 function_call 消息
func NewFunctionCall(callID string, invocations []FunctionInvocation) Message {
	return Message{
		Type:           "function_call",
		FunctionCallID: callID,
		FunctionCalls:  invocations,
	}
}

// NewFunctionResult 创建 function_call_result 消息。
// results 必须与对应 function_call 的 invocations 位置一一对应。
func NewFunctionResult(callID string, results []any) Message {
	return Message{
		Type:                "function_call_result",
		FunctionCallID:      callID,
		FunctionCallResults: results,
	}
}

//
// ============================================================
// 函数目录
// ============================================================
//

// FunctionSchema 对模型声明的可调用函数。
// Parameters 为 JSON Schema 子集（type/properties/required）。
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ValidateCatalog 校验函数目录：名称必须唯一且非空
func ValidateCatalog(schemas []FunctionSchema) error {
	seen := map[string]bool{}
	for _, s := range schemas {
		if s.Name == "" {
			return fmt.Errorf("function schema with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate function schema: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

//
// ============================================================
// 结果值与错误标签
// ============================================================
//

// 错误结果的标签。函数层面的失败一律作为结果值回传给模型，
// 不会中断会话。
const (
	ErrTagUnknownFunction  = "unknown_function"
	ErrTagFunctionError    = "function_error"
	ErrTagInvalidArguments = "invalid_arguments"
)

// ErrorValue 构造带错误标签的结果值
func ErrorValue(tag, message string) map[string]any {
	return map[string]any{
		"status":     "error",
		"error_type": tag,
		"message":    message,
	}
}

// ErrorTag 判断结果值是否为错误结果，是则返回其标签
func ErrorTag(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if m["status"] != "error" {
		return "", false
	}
	tag, _ := m["error_type"].(string)
	return tag, tag != ""
}

//
// ============================================================
// 转录不变量
// ============================================================
//

// ValidateTranscript 校验转录：每个 function_call 之后必须紧跟
// 同 call_id 的 function_call_result，且结果数量与调用数量一致。
// 带悬空调用的转录不允许重新提交。
func ValidateTranscript(messages []Message) error {
	for i, m := range messages {
		if m.Kind() != KindFunctionCall {
			continue
		}
		if i+1 >= len(messages) {
			return fmt.Errorf("transcript[%d]: function_call %s has no result", i, m.FunctionCallID)
		}
		next := messages[i+1]
		if next.Kind() != KindFunctionResult {
			return fmt.Errorf("transcript[%d]: function_call %s not followed by function_call_result", i, m.FunctionCallID)
		}
		if next.FunctionCallID != m.FunctionCallID {
			return fmt.Errorf("transcript[%d]: result call_id %s does not match call_id %s",
				i+1, next.FunctionCallID, m.FunctionCallID)
		}
		if len(next.FunctionCallResults) != len(m.FunctionCalls) {
			return fmt.Errorf("transcript[%d]: %d results for %d invocations",
				i+1, len(next.FunctionCallResults), len(m.FunctionCalls))
		}
	}
	return nil
}

//
// ============================================================
// 请求体
// ============================================================
//

// CompletionRequest POST /v1/chat-completion 的请求体
type CompletionRequest struct {
	Model     string           `json:"model"`
	Stream    bool             `json:"stream"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Functions []FunctionSchema `json:"functions,omitempty"`
}
