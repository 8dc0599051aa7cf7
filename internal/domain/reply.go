package domain

// ReplyKind tags which of the four reply shapes a model message holds.
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyFunctionCall
	ReplyPlugin
	ReplySearch
)

// String returns the kind name used in logs.
func (k ReplyKind) String() string {
	switch k {
	case ReplyFunctionCall:
		return "function_call"
	case ReplyPlugin:
		return "plugin"
	case ReplySearch:
		return "search"
	default:
		return "text"
	}
}

// Reply is the payload shared by whole and streamed model replies.
// At most one of FunctionCall, PluginInfo and SearchInfo is set.
type Reply struct {
	Content      string
	FunctionCall *FunctionCall
	PluginInfo   *PluginInfo
	SearchInfo   *SearchInfo
	TokenUsage   TokenUsage
}

// Kind reports the reply shape.
func (r Reply) Kind() ReplyKind {
	switch {
	case r.FunctionCall != nil:
		return ReplyFunctionCall
	case r.PluginInfo != nil:
		return ReplyPlugin
	case r.SearchInfo != nil:
		return ReplySearch
	default:
		return ReplyText
	}
}

// AIMessage is a complete model reply.
type AIMessage struct {
	Reply
}

// NewAIMessage wraps a reply as a whole message.
func NewAIMessage(r Reply) *AIMessage {
	return &AIMessage{Reply: r}
}

// Role is always assistant for model replies.
func (m *AIMessage) Role() Role { return RoleAssistant }

// ToMessage turns the reply into a history turn that can be sent back upstream.
func (m *AIMessage) ToMessage() Message {
	msg := Message{Role: RoleAssistant, Content: m.Content}
	if m.FunctionCall != nil {
		fc := *m.FunctionCall
		msg.FunctionCall = &fc
	}
	return msg
}

// AIMessageChunk is one streamed fragment of a model reply.
type AIMessageChunk struct {
	Reply

	// SentenceID is the upstream fragment sequence number.
	SentenceID int

	// IsEnd marks the last fragment of the stream.
	IsEnd bool
}

// NewAIMessageChunk wraps a reply as a streamed fragment.
func NewAIMessageChunk(r Reply) *AIMessageChunk {
	return &AIMessageChunk{Reply: r}
}

// Role is always assistant for model replies.
func (c *AIMessageChunk) Role() Role { return RoleAssistant }
