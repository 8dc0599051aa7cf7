// Package domain contains the core business entities and value objects.
package domain

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleSystem    Role = "system"
)

// Message represents one conversational turn exchanged with the model.
type Message struct {
	// Role is the author of the turn.
	Role Role `json:"role"`

	// Content is the text of the turn. Empty for assistant turns that only carry a function call.
	Content string `json:"content"`

	// Name is the function name for function-result turns. Optional.
	Name string `json:"name,omitempty"`

	// FunctionCall is set on assistant turns that invoked a function. Optional.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// NewUserMessage builds a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewFunctionMessage builds a turn carrying the result of a function invocation.
func NewFunctionMessage(name, content string) Message {
	return Message{Role: RoleFunction, Name: name, Content: content}
}

// ToMap converts the message into the plain mapping sent upstream.
func (m Message) ToMap() map[string]any {
	out := map[string]any{
		"role":    string(m.Role),
		"content": m.Content,
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.FunctionCall != nil {
		out["function_call"] = m.FunctionCall.ToMap()
	}
	return out
}

// FunctionCall is a model-issued request to invoke a caller-defined function.
type FunctionCall struct {
	Name      string `json:"name"`
	Thoughts  string `json:"thoughts,omitempty"`
	Arguments string `json:"arguments"`
}

// ToMap converts the call into its upstream mapping.
func (f FunctionCall) ToMap() map[string]any {
	return map[string]any{
		"name":      f.Name,
		"thoughts":  f.Thoughts,
		"arguments": f.Arguments,
	}
}

// PluginInfo lists the plugins the model invoked while generating a reply.
type PluginInfo struct {
	Names []string `json:"names"`
}

// SearchResult is one item of search-augmented context.
type SearchResult struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SearchInfo holds the search results returned alongside a reply.
type SearchInfo struct {
	Results []SearchResult `json:"results"`
}

// TokenUsage contains token usage statistics for one exchange.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
