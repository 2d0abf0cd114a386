package utils

import (
	"regexp"
	"unicode"

	"golang.org/x/text/width"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI 去掉 ANSI 颜色转义序列
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

func runeWidth(r rune) int {
	switch {
	case unicode.Is(unicode.Mn, r):
		return 0
	case r >= 0x1F300 && r <= 0x1FAFF: // emoji
		return 2
	}

	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

// DisplayWidth 计算字符串在终端的显示宽度（忽略 ANSI 序列）
func DisplayWidth(s string) int {
	w := 0
	for _, r := range StripANSI(s) {
		w += runeWidth(r)
	}
	return w
}

// TruncateToWidth 截断到指定显示宽度，超出时以 … 结尾
func TruncateToWidth(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}

	plain := StripANSI(text)
	if DisplayWidth(plain) <= maxWidth {
		return text
	}
	if maxWidth <= 1 {
		return truncateWidth(plain, maxWidth)
	}
	return truncateWidth(plain, maxWidth-1) + "…"
}

func truncateWidth(s string, max int) string {
	w := 0
	out := make([]rune, 0, len(s))
	for _, r := range s {
		rw := runeWidth(r)
		if w+rw > max {
			break
		}
		out = append(out, r)
		w += rw
	}
	return string(out)
}

// PadToWidth 按显示宽度右侧填充空格，用于对齐输出框
func PadToWidth(text string, targetWidth int) string {
	pad := targetWidth - DisplayWidth(text)
	if pad <= 0 {
		return text
	}
	b := make([]rune, pad)
	for i := range b {
		b[i] = ' '
	}
	return text + string(b)
}
