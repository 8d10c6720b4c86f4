package conversations

// StateEvent is the closed set of mutations the Disentangler can request
// from the Manager. Exactly one StateEvent is produced per disentangled
// message.
type StateEvent interface {
	isStateEvent()
}

// CreateConversation opens a fresh conversation seeded with Message.
type CreateConversation struct {
	Message ClassifiedMessage
}

// AddToConversation appends Message to the conversation that owns Parent.
// If the parent is no longer tracked the Manager degrades the event to a
// CreateConversation.
type AddToConversation struct {
	Message ClassifiedMessage
	Parent  ClassifiedMessage
}

func (CreateConversation) isStateEvent() {}
func (AddToConversation) isStateEvent()  {}
