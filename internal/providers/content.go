package providers

import (
	"encoding/json"
	"regexp"
	"strings"
)

// thinkBlockRe matches <think>...</think> reasoning blocks (including any
// trailing whitespace) that some backends prepend to their answers.
var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// StripThink removes reasoning blocks from backend output so similarity
// scoring compares answers, not chain-of-thought.
func StripThink(s string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(s, ""))
}

// ExtractText pulls the completion text out of a raw backend response body.
// It understands the OpenAI chat shape (choices[0].message.content) and the
// Anthropic shape (content[0].text); anything else yields "".
func ExtractText(raw json.RawMessage) string {
	var openAI struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &openAI); err == nil && len(openAI.Choices) > 0 {
		if c := openAI.Choices[0].Message.Content; c != "" {
			return c
		}
		if t := openAI.Choices[0].Text; t != "" {
			return t
		}
	}

	var anthropic struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &anthropic); err == nil {
		for _, block := range anthropic.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}

// ExtractUsage pulls token usage from a raw backend response body. OpenAI
// reports prompt_tokens/completion_tokens, Anthropic input_tokens/
// output_tokens. Zeros mean the backend did not report usage.
func ExtractUsage(raw json.RawMessage) (inputTokens, outputTokens int) {
	var wire struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return 0, 0
	}
	in := wire.Usage.PromptTokens
	if in == 0 {
		in = wire.Usage.InputTokens
	}
	out := wire.Usage.CompletionTokens
	if out == 0 {
		out = wire.Usage.OutputTokens
	}
	return in, out
}
