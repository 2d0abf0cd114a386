package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"incredible-cli/internal/schema"
	"incredible-cli/internal/tokenizer"
	"incredible-cli/internal/utils"
)

// Summarizer 对过长的会话转录进行压缩：
// 把已完成回合的执行过程替换为模型生成的摘要，
// 保证转录不超过设定的 token 限制。
type Summarizer struct {
	client     Client
	tokenLimit int
}

// NewSummarizer 创建 Summarizer
func NewSummarizer(client Client, tokenLimit int) *Summarizer {
	return &Summarizer{
		client:     client,
		tokenLimit: tokenLimit,
	}
}

// Compact 当转录的 token 估算超过限制时压缩转录。
// 末尾未被回答的 function_call/result 对保持原样：
// 模型还需要这些结果的原文。
func (s *Summarizer) Compact(ctx context.Context, messages []schema.Message) ([]schema.Message, error) {
	tokens := tokenizer.EstimateTokens(messages)
	if tokens <= s.tokenLimit {
		return messages, nil
	}

	slog.Info("Compacting transcript",
		slog.Int("tokens", tokens),
		slog.Int("limit", s.tokenLimit),
	)

	userIdx := []int{}
	for i, m := range messages {
		if m.Kind() == schema.KindUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) == 0 {
		return messages, nil
	}

	tailPending := len(messages) > 0 &&
		messages[len(messages)-1].Kind() == schema.KindFunctionResult

	var newMsgs []schema.Message
	newMsgs = append(newMsgs, messages[:userIdx[0]]...)

	for i, ui := range userIdx {
		newMsgs = append(newMsgs, messages[ui])

		end := len(messages)
		if i < len(userIdx)-1 {
			end = userIdx[i+1]
		}

		span := messages[ui+1 : end]
		if len(span) == 0 {
			continue
		}

		// 进行中的最后一个回合保持原样
		if tailPending && i == len(userIdx)-1 {
			newMsgs = append(newMsgs, span...)
			continue
		}

		summary, err := s.createSummary(ctx, span, i+1)
		if err != nil {
			slog.Warn("Summary failed", slog.String("err", err.Error()))
			newMsgs = append(newMsgs, span...)
			continue
		}

		newMsgs = append(newMsgs, schema.NewUserMessage("[Execution Summary]\n\n"+summary))
	}

	newTokens := tokenizer.EstimateTokens(newMsgs)
	slog.Info("Compaction complete",
		slog.Int("before", tokens),
		slog.Int("after", newTokens),
	)

	return newMsgs, nil
}

func (s *Summarizer) createSummary(ctx context.Context, span []schema.Message, round int) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Round %d execution process:\n\n", round))

	for _, m := range span {
		switch m.Kind() {
		case schema.KindAssistant:
			sb.WriteString("Assistant: " + m.Content + "\n")
		case schema.KindFunctionCall:
			names := make([]string, len(m.FunctionCalls))
			for i, inv := range m.FunctionCalls {
				names[i] = inv.Name
			}
			sb.WriteString("  → Called functions: " + strings.Join(names, ", ") + "\n")
		case schema.KindFunctionResult:
			sb.WriteString("  ← Results: " + utils.MarshalToString(m.FunctionCallResults) + "\n")
		}
	}

	prompt := fmt.Sprintf(`
Please summarize the following orchestrator execution process:

%s

Rules:
- Focus on what was asked, which functions ran, and what they returned
- Concise, English, < 800 words
- Summarize execution only (no user content)
`, sb.String())

	body := s.client.NewRequest(
		"You summarize function-calling execution transcripts.",
		[]schema.Message{schema.NewUserMessage(prompt)},
		nil,
	)

	comp, err := s.client.Complete(ctx, body)
	if err != nil {
		return "", err
	}
	return comp.Text(), nil
}
