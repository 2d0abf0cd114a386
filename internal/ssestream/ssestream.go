package ssestream

import (
	"bufio"
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

//
// ============================================================
// SSE 解码器
// ============================================================
//

var (
	defaultMaxBufSize = 1 << 15 // 32KB

	headerData   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// Decoder 从 SSE 响应体中逐条读取 data 载荷。
// 流以字面量 `data: [DONE]` 结束，此后 Next 返回 io.EOF。
// 非 data 行（注释、event、空行）按 SSE 规范直接忽略。
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewDecoder 创建解码器
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), defaultMaxBufSize)

	return &Decoder{scanner: scanner}
}

// Next 返回下一条 data 载荷的原始字节。
// 流结束（[DONE] 或底层 EOF）返回 io.EOF。
func (d *Decoder) Next() ([]byte, error) {
	if d.done {
		return nil, io.EOF
	}

	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if !bytes.HasPrefix(line, headerData) {
			continue
		}

		data := bytes.TrimSpace(line[len(headerData):])
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneSentinel) {
			d.done = true
			return nil, io.EOF
		}

		// scanner 复用底层缓冲，须拷贝
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

//
// ============================================================
// 增量内容解码
// ============================================================
//

// fragmentPayload 流式载荷。content 要么是字符串，
// 要么是 {type, content} 的带标签变体。
type fragmentPayload struct {
	Content jsoniter.RawMessage `json:"content"`
}

type taggedContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DecodeFragment 从一条 data 载荷中取出增量文本。
// 载荷不是合法 JSON 时返回错误；没有 content 字段时返回空串。
func DecodeFragment(data []byte) (string, error) {
	var payload fragmentPayload
	if err := jsoniter.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	if len(payload.Content) == 0 {
		return "", nil
	}

	// 先按字符串解析
	var text string
	if err := jsoniter.Unmarshal(payload.Content, &text); err == nil {
		return text, nil
	}

	// 再按带标签变体解析
	var tagged taggedContent
	if err := jsoniter.Unmarshal(payload.Content, &tagged); err != nil {
		return "", err
	}
	return tagged.Content, nil
}
