package llm

import "fmt"

// TransportError 网络或 HTTP 层失败（连接错误 / 非 2xx 状态）。
// 是否重试由调用方决定，循环本身立即中止且不消耗步数。
type TransportError struct {
	StatusCode int // 0 表示未收到响应
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError 响应体不符合约定的结构。
// 在传输边界 fail fast，而不是带着畸形数据继续往下走。
type ProtocolError struct {
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}
