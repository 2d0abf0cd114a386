package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"incredible-cli/internal/schema"
	"incredible-cli/internal/utils"
)

// EstimateTokens 估算转录的 token 数量。
// 优先使用 tiktoken-go 编码统计，不可用时回退到字符长度估算。
func EstimateTokens(messages []schema.Message) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return EstimateTokensFallback(messages)
	}

	total := 0
	for _, m := range messages {
		total += countTokens(enc, m.Content)
		if len(m.FunctionCalls) > 0 {
			total += countTokens(enc, utils.MarshalToString(m.FunctionCalls))
		}
		if len(m.FunctionCallResults) > 0 {
			total += countTokens(enc, utils.MarshalToString(m.FunctionCallResults))
		}
		// 每条消息约 4 个 token 的元数据开销
		total += 4
	}
	return total
}

func countTokens(enc *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateTokensFallback 按 2.5 字符约等于 1 token 估算
func EstimateTokensFallback(messages []schema.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
		if len(m.FunctionCalls) > 0 {
			total += len(fmt.Sprintf("%v", m.FunctionCalls))
		}
		if len(m.FunctionCallResults) > 0 {
			total += len(fmt.Sprintf("%v", m.FunctionCallResults))
		}
	}
	return int(float64(total) / 2.5)
}
