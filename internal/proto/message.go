package proto

import "encoding/json"

// Inbound is the envelope for messages coming from a client connection.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeRegister = "register"
	InboundTypeAssign   = "assign"
	InboundTypeMessage  = "message"
)

// RegisterData requests registration into a topic; the role comes from the
// connection's token, never from the client payload.
type RegisterData struct {
	Topic string `json:"topic"`
}

// AssignData is a moderator's request to pull a waiting learner into its room.
type AssignData struct {
	Topic     string `json:"topic"`
	LearnerID string `json:"learnerId"`
}

// MessageData relays free text to an addressed channel.
type MessageData struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Outbound is the envelope for commands pushed to a client connection.
type Outbound struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}
