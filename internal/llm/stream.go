package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"incredible-cli/internal/schema"
	"incredible-cli/internal/ssestream"
)

//
// ============================================================
// 流式补全
// ============================================================
//

// Chunk 流式响应的一个增量片段
type Chunk struct {
	Text string
	Err  error
}

// StreamResponse 流式响应。Chunks 在流结束或出错后关闭。
type StreamResponse struct {
	Chunks <-chan Chunk
}

// Collect 消费整条流，将片段按序拼成完整文本。
// onText 非 nil 时对每个片段即时回调（打字机输出用）。
func (s *StreamResponse) Collect(ctx context.Context, onText func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-s.Chunks:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			if chunk.Text != "" {
				if onText != nil {
					onText(chunk.Text)
				}
				b.WriteString(chunk.Text)
			}
		}
	}
}

// Stream 发起一次流式补全请求。
// 返回后由调用方消费 Chunks；函数调用协议只作用于
// 完整组装后的消息，流式仅是只读的消费方式。
func (c *Client) Stream(ctx context.Context, body *schema.CompletionRequest) (*StreamResponse, error) {
	body.Stream = true

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		DisableAutoReadResponse().
		Post(completionPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: err}
	}

	if !resp.IsSuccessState() {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	chunks := make(chan Chunk, 16)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		dec := ssestream.NewDecoder(resp.Body)
		for {
			data, err := dec.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				chunks <- Chunk{Err: &TransportError{Err: err}}
				return
			}

			text, err := ssestream.DecodeFragment(data)
			if err != nil {
				chunks <- Chunk{Err: &ProtocolError{
					Reason: fmt.Sprintf("invalid stream payload: %v", err),
					Raw:    data,
				}}
				return
			}
			if text == "" {
				continue
			}

			select {
			case chunks <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &StreamResponse{Chunks: chunks}, nil
}
