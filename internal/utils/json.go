package utils

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// MarshalToString JSON 编码为字符串，失败返回空串
func MarshalToString(v any) string {
	s, err := jsoniter.MarshalToString(v)
	if err != nil {
		return ""
	}
	return s
}

// MarshalIndentToString JSON 编码为格式化字符串。
// 失败时返回带错误提示的 JSON，方便日志排查。
func MarshalIndentToString(v any) string {
	bf := bytes.NewBuffer([]byte{})
	encoder := jsoniter.NewEncoder(bf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return `{"error": "json marshal failed"}`
	}
	return bf.String()
}
