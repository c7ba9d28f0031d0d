package openai

const (
	chatCompletionsPath = "/chat/completions"
	doneSentinel        = "[DONE]"
)

var defaultHeaders = map[string]string{
	"Content-Type": "application/json",
	"User-Agent":   "claude-bridge/0.1.0",
}
