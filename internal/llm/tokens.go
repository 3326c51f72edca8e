package llm

import (
	"math"
	"strings"
	"unicode/utf8"
)

// ImageTokenSurcharge 每个图片附件的固定估算开销
const ImageTokenSurcharge = 1000

// EstimateTokens 估算文本 Token 数：字符数/4 与 词数×1.3 的平均值，向上取整
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	chars := float64(utf8.RuneCountInString(text)) / 4
	words := float64(len(strings.Fields(text))) * 1.3
	return int(math.Ceil((chars + words) / 2))
}

// EstimateMessageTokens 估算单条消息的 Token 数，包含图片附加开销
func EstimateMessageTokens(m Message) int {
	tokens := EstimateTokens(m.Text())
	for _, call := range m.ToolCalls {
		tokens += EstimateTokens(call.Name) + EstimateTokens(call.RawArguments)
	}
	for _, r := range m.ToolResults {
		tokens += EstimateTokens(r.Content)
	}
	return tokens + len(m.Images())*ImageTokenSurcharge
}
