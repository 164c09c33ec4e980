package providers

// collapseToolCallsWithoutSig drops an assistant turn's tool_calls (and
// their matching tool-result messages) when any of them is missing its
// thought_signature. Gemini 2.5+ requires that signature echoed back on
// every tool_call in history; a session whose transcript predates this
// provider capturing it would otherwise get an HTTP 400 from Gemini on the
// very next turn. The assistant's plain text content, if any, survives.
func collapseToolCallsWithoutSig(msgs []Message) []Message {
	needsCollapse := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.Metadata["thought_signature"] != "" {
				continue
			}
			for _, sibling := range m.ToolCalls {
				needsCollapse[sibling.ID] = true
			}
			break
		}
	}
	if len(needsCollapse) == 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == "assistant" && len(m.ToolCalls) > 0 && needsCollapse[m.ToolCalls[0].ID] {
			if m.Content != "" {
				out = append(out, Message{Role: "assistant", Content: m.Content})
			}
			for i+1 < len(msgs) && msgs[i+1].Role == "tool" && needsCollapse[msgs[i+1].ToolCallID] {
				i++
			}
			continue
		}

		if m.Role == "tool" && needsCollapse[m.ToolCallID] {
			continue
		}

		out = append(out, m)
	}
	return out
}
