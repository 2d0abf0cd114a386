package integrations

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/imroc/req/v3"
	jsoniter "github.com/json-iterator/go"

	"incredible-cli/internal/llm"
)

// executePath 集成执行端点模板：provider 内嵌在路径里
const executePath = "/v1/integrations/%s/execute"

// Client 托管集成（Gmail、Perplexity 等）的执行客户端。
// 与补全接口共用同一套鉴权与错误分类。
type Client struct {
	http    *req.Client
	userID  string
	timeout time.Duration
}

// ClientOption 集成客户端选项
type ClientOption func(*Client)

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient 创建集成客户端。userID 标识托管侧的授权账号。
func NewClient(apiKey, apiBase, userID string, opts ...ClientOption) *Client {
	if apiBase == "" {
		apiBase = llm.DefaultAPIBase
	}

	c := &Client{
		userID:  userID,
		timeout: llm.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.http = req.C().
		SetBaseURL(apiBase).
		SetCommonBearerAuthToken(apiKey).
		SetCommonContentType("application/json")

	return c
}

type executeRequest struct {
	UserID      string         `json:"user_id"`
	FeatureName string         `json:"feature_name"`
	Inputs      map[string]any `json:"inputs"`
}

type executeEnvelope struct {
	Result map[string]any `json:"result"`
}

// Execute 执行一次托管集成动作并返回 result 对象。
// 失败分类与补全接口一致：传输失败返回 *llm.TransportError，
// 响应形状不对返回 *llm.ProtocolError。
func (c *Client) Execute(ctx context.Context, provider, feature string, inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Info("Executing integration",
		slog.String("provider", provider),
		slog.String("feature", feature),
	)

	resp, err := c.http.R().
		SetContext(reqCtx).
		SetBody(&executeRequest{
			UserID:      c.userID,
			FeatureName: feature,
			Inputs:      inputs,
		}).
		Post(fmt.Sprintf(executePath, provider))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.TransportError{Err: err}
	}

	if !resp.IsSuccessState() {
		return nil, &llm.TransportError{
			StatusCode: resp.StatusCode,
			Body:       resp.String(),
		}
	}

	var envelope executeEnvelope
	if err := jsoniter.Unmarshal(resp.Bytes(), &envelope); err != nil {
		return nil, &llm.ProtocolError{Reason: fmt.Sprintf("invalid integration response: %v", err), Raw: resp.Bytes()}
	}
	if envelope.Result == nil {
		return nil, &llm.ProtocolError{Reason: "integration response missing result object", Raw: resp.Bytes()}
	}

	return envelope.Result, nil
}
