package integrations

import (
	"context"

	"incredible-cli/internal/functions"
)

//
// ============================================================
// Feature —— 把托管集成包装成可注册的本地函数
// ============================================================
//

// Feature 将一个托管集成动作适配为 functions.Function：
// 模型侧看到的是普通函数，分发时转发给集成端点执行。
type Feature struct {
	client      *Client
	provider    string
	feature     string
	name        string
	description string
	parameters  map[string]any
}

// NewFeature 创建集成函数适配器
func NewFeature(client *Client, provider, feature, name, description string, parameters map[string]any) *Feature {
	return &Feature{
		client:      client,
		provider:    provider,
		feature:     feature,
		name:        name,
		description: description,
		parameters:  parameters,
	}
}

func (f *Feature) Name() string               { return f.name }
func (f *Feature) Description() string        { return f.description }
func (f *Feature) Parameters() map[string]any { return f.parameters }

// Call 转发到集成端点。错误直接上抛，由注册表折叠成结果值。
func (f *Feature) Call(ctx context.Context, input map[string]any) (any, error) {
	return f.client.Execute(ctx, f.provider, f.feature, input)
}

var _ functions.Function = (*Feature)(nil)

//
// ============================================================
// 预置集成函数
// ============================================================
//

// GmailSendEmail 发送邮件
func GmailSendEmail(client *Client) *Feature {
	return NewFeature(client, "gmail", "GMAIL_SEND_EMAIL",
		"send_email", "Send an email via the connected Gmail account",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient_email": map[string]any{
					"type":        "string",
					"description": "Email address of the recipient",
				},
				"subject": map[string]any{
					"type":        "string",
					"description": "Subject line",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Plain text body of the email",
				},
			},
			"required": []string{"recipient_email", "subject", "body"},
		})
}

// PerplexitySearch 联网搜索
func PerplexitySearch(client *Client) *Feature {
	return NewFeature(client, "perplexity", "PERPLEXITY_SEARCH",
		"web_search", "Search the web for up-to-date information",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
			},
			"required": []string{"query"},
		})
}
