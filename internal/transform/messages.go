package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/openai"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// InlineDataPlaceholder is the text that replaces an inline binary part.
func InlineDataPlaceholder(mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("[Unsupported inline data: %s]", mimeType)
}

// buildMessages flattens the conversation into chat messages. Every turn
// becomes one message whose text is the concatenation of its parts.
// Function calls become assistant tool_calls and function responses become
// tool messages linked to the matching call.
func buildMessages(system *gemini.SystemInstruction, contents []gemini.Content) ([]openai.Message, error) {
	var messages []openai.Message
	if system != nil {
		if text := flattenParts(system.Parts); text != "" {
			messages = append(messages, openai.Message{Role: roleSystem, Content: text})
		}
	}

	calls := newCallTracker()
	for i, content := range contents {
		role := roleAssistant
		if content.Role == gemini.RoleUser {
			role = roleUser
		}

		text := flattenParts(content.Parts)
		var toolCalls []openai.ToolCall
		var toolResults []openai.Message
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(argsOrEmpty(part.FunctionCall.Args))
				if err != nil {
					return nil, fmt.Errorf("contents[%d]: could not encode args of %s: %w", i, part.FunctionCall.Name, err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					Index: len(toolCalls),
					ID:    calls.open(part.FunctionCall.Name),
					Type:  "function",
					Function: openai.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case part.FunctionResponse != nil:
				body, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("contents[%d]: could not encode response of %s: %w", i, part.FunctionResponse.Name, err)
				}
				toolResults = append(toolResults, openai.Message{
					Role:       roleTool,
					ToolCallID: calls.close(part.FunctionResponse.Name),
					Name:       part.FunctionResponse.Name,
					Content:    string(body),
				})
			}
		}

		switch {
		case len(toolCalls) > 0:
			msg := openai.Message{Role: roleAssistant, ToolCalls: toolCalls}
			if text != "" {
				msg.Content = text
			}
			messages = append(messages, msg)
		case len(toolResults) > 0:
			messages = append(messages, toolResults...)
			if text != "" {
				messages = append(messages, openai.Message{Role: role, Content: text})
			}
		default:
			messages = append(messages, openai.Message{Role: role, Content: text})
		}
	}
	return messages, nil
}

func flattenParts(parts []gemini.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		switch {
		case p.Text != "":
			b.WriteString(p.Text)
		case p.InlineData != nil:
			b.WriteString(InlineDataPlaceholder(p.InlineData.MimeType))
		}
	}
	return b.String()
}

func argsOrEmpty(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// callTracker assigns tool call IDs and pairs function responses with the
// oldest unanswered call of the same name.
type callTracker struct {
	next    int
	pending map[string][]string
}

func newCallTracker() *callTracker {
	return &callTracker{pending: make(map[string][]string)}
}

func (c *callTracker) open(name string) string {
	c.next++
	id := fmt.Sprintf("call_%d_%s", c.next, name)
	c.pending[name] = append(c.pending[name], id)
	return id
}

func (c *callTracker) close(name string) string {
	ids := c.pending[name]
	if len(ids) == 0 {
		// A response without a preceding call still needs an ID.
		c.next++
		return fmt.Sprintf("call_%d_%s", c.next, name)
	}
	c.pending[name] = ids[1:]
	return ids[0]
}
