package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/imroc/req/v3"
	jsoniter "github.com/json-iterator/go"

	"incredible-cli/internal/retry"
	"incredible-cli/internal/schema"
)

const (
	// DefaultAPIBase Incredible API 默认地址
	DefaultAPIBase = "https://api.incredible.one"

	// DefaultTimeout 单次远端请求的超时
	DefaultTimeout = 30 * time.Second

	completionPath = "/v1/chat-completion"
)

// Client Incredible API 客户端
type Client struct {
	http        *req.Client
	apiBase     string
	model       string
	timeout     time.Duration
	retryConfig *retry.Config
	onRetry     retry.OnRetryFunc
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithRetryConfig 设置重试配置。
// 默认不重试：是否重试传输错误由调用方决定。
func WithRetryConfig(cfg *retry.Config) ClientOption {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

// WithRetryCallback 设置重试回调
func WithRetryCallback(fn retry.OnRetryFunc) ClientOption {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient 创建 Incredible API 客户端
func NewClient(apiKey, apiBase, model string, opts ...ClientOption) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}

	c := &Client{
		apiBase: apiBase,
		model:   model,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.http = req.C().
		SetBaseURL(apiBase).
		SetCommonBearerAuthToken(apiKey).
		SetCommonContentType("application/json")

	slog.Info("Initialized Incredible client",
		slog.String("model", model),
		slog.String("apiBase", apiBase),
	)

	return c
}

// Model 返回客户端使用的模型名
func (c *Client) Model() string {
	return c.model
}

// NewRequest 以客户端的模型构造请求体
func (c *Client) NewRequest(system string, messages []schema.Message, functions []schema.FunctionSchema) *schema.CompletionRequest {
	return &schema.CompletionRequest{
		Model:     c.model,
		System:    system,
		Messages:  messages,
		Functions: functions,
	}
}

//
// ============================================================
// 非流式补全
// ============================================================
//

// Completion 非流式响应解析结果。
// Assistant 与 Call 均可为 nil，但不会同时为 nil。
type Completion struct {
	Assistant *schema.Message
	Call      *schema.Message
}

// HasCall 响应中是否含函数调用
func (c *Completion) HasCall() bool {
	return c.Call != nil
}

// Text 返回 assistant 文本（无则为空串）
func (c *Completion) Text() string {
	if c.Assistant == nil {
		return ""
	}
	return c.Assistant.Content
}

// Complete 发起一次非流式补全请求
func (c *Client) Complete(ctx context.Context, body *schema.CompletionRequest) (*Completion, error) {
	if c.retryConfig == nil {
		return c.doComplete(ctx, body)
	}
	return retry.Do(ctx, c.retryConfig, func() (*Completion, error) {
		return c.doComplete(ctx, body)
	}, c.onRetry)
}

func (c *Client) doComplete(ctx context.Context, body *schema.CompletionRequest) (*Completion, error) {
	body.Stream = false

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(reqCtx).
		SetBody(body).
		Post(completionPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}

	if !resp.IsSuccessState() {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       resp.String(),
		}
	}

	return parseCompletion(resp.Bytes())
}

//
// ============================================================
// 响应解析（传输边界的 tagged-union 解码）
// ============================================================
//

type responseEnvelope struct {
	Result struct {
		Response []json.RawMessage `json:"response"`
	} `json:"result"`
}

// parseCompletion 解析 {result:{response:[...]}}。
// 每个条目要么是 assistant 消息，要么是 function_call；
// 其余形状一律按 ProtocolError 处理。
func parseCompletion(raw []byte) (*Completion, error) {
	var envelope responseEnvelope
	if err := jsoniter.Unmarshal(raw, &envelope); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid response body: %v", err), Raw: raw}
	}
	if len(envelope.Result.Response) == 0 {
		return nil, &ProtocolError{Reason: "missing result.response items", Raw: raw}
	}

	comp := &Completion{}
	for _, item := range envelope.Result.Response {
		var m schema.Message
		if err := jsoniter.Unmarshal(item, &m); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("invalid response item: %v", err), Raw: item}
		}

		switch m.Kind() {
		case schema.KindAssistant:
			if comp.Assistant == nil {
				msg := m
				comp.Assistant = &msg
			}

		case schema.KindFunctionCall:
			if m.FunctionCallID == "" {
				return nil, &ProtocolError{Reason: "function_call item without function_call_id", Raw: item}
			}
			if len(m.FunctionCalls) == 0 {
				return nil, &ProtocolError{Reason: "function_call item with empty function_calls", Raw: item}
			}
			if comp.Call == nil {
				msg := m
				comp.Call = &msg
			}

		default:
			return nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized response item kind %q", m.Kind()), Raw: item}
		}
	}

	if comp.Assistant == nil && comp.Call == nil {
		return nil, &ProtocolError{Reason: "response carries neither assistant message nor function_call"}
	}

	return comp, nil
}
