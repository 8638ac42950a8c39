package domain

// ConversationContext is the platform's unit of persisted, lifespan-scoped state.
// A RemainingTurns of zero deletes the context.
type ConversationContext struct {
	Name           string
	RemainingTurns int
	Parameters     map[string]string
}

// Clone returns a deep copy of c.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.Parameters != nil {
		out.Parameters = make(map[string]string, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// TurnRequest is the input of a single fulfillment call.
type TurnRequest struct {
	SessionID string
	IntentID  string
	// Parameters holds the raw entity values: string, float64, bool or []any.
	Parameters map[string]any
	// Contexts are the contexts the platform delivered with the turn.
	Contexts []ConversationContext
}

type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentSuggestion
	FragmentImage
	FragmentCard
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentText:
		return "text"
	case FragmentSuggestion:
		return "suggestion"
	case FragmentImage:
		return "image"
	case FragmentCard:
		return "card"
	default:
		return "unknown"
	}
}

// Card is a rich card with an image and a single link button.
type Card struct {
	Title      string
	ImageURL   string
	Body       string
	ButtonText string
	ButtonURL  string
}

// Fragment is one piece of a reply. Text is the message for text fragments
// and the label for suggestions; ImageURL is set for image fragments.
type Fragment struct {
	Kind     FragmentKind
	Text     string
	ImageURL string
	Card     *Card
}

// TurnResponse is the ordered reply of a turn plus the contexts the platform
// must store.
type TurnResponse struct {
	Fragments []Fragment
	Contexts  []ConversationContext
}
