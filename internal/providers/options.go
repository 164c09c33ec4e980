package providers

// ChatRequest.Options keys. Every provider reads the ones it understands
// and ignores the rest, so a caller can set all of them unconditionally
// without knowing which backend will serve a given turn.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"

	// OptThinkingLevel is the generic "off"/"low"/"medium"/"high" knob each
	// provider maps to its own extended-thinking/reasoning parameter.
	OptThinkingLevel = "thinking_level"

	// OptReasoningEffort is OpenAI's o-series wire parameter name.
	OptReasoningEffort = "reasoning_effort"

	// OptEnableThinking and OptThinkingBudget are DashScope/Qwen's wire
	// parameter names, passed through by OpenAIProvider.buildRequestBody.
	OptEnableThinking = "enable_thinking"
	OptThinkingBudget = "thinking_budget"
)
