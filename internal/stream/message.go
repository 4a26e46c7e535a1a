package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "github.com/iamthamanic/multiagentultra/pkg/api/v1"
)

// Kind is the message type tag.
type Kind string

const (
	KindThought   Kind = "thought"
	KindAction    Kind = "action"
	KindResult    Kind = "result"
	KindError     Kind = "error"
	KindMilestone Kind = "milestone"
	KindStatus    Kind = "status"
)

// Kinds lists every accepted message kind.
var Kinds = []Kind{KindThought, KindAction, KindResult, KindError, KindMilestone, KindStatus}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Message is one decoded stream event. Its content is never interpreted here.
type Message struct {
	Kind      Kind                   `json:"type"`
	AgentID   *int64                 `json:"agent_id,omitempty"`
	AgentName *string                `json:"agent_name,omitempty"`
	CrewID    *int64                 `json:"crew_id,omitempty"`
	ProjectID *int64                 `json:"project_id,omitempty"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp v1.Timestamp           `json:"timestamp"`
}

// wireMessage mirrors Message with pointers so required fields can be checked.
type wireMessage struct {
	Kind      *Kind                  `json:"type"`
	AgentID   *int64                 `json:"agent_id"`
	AgentName *string                `json:"agent_name"`
	CrewID    *int64                 `json:"crew_id"`
	ProjectID *int64                 `json:"project_id"`
	Content   *string                `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp *v1.Timestamp          `json:"timestamp"`
}

// ErrMalformedMessage is wrapped by every Decode failure.
var ErrMalformedMessage = errors.New("malformed stream message")

// Decode parses one inbound payload. The type, content and timestamp fields
// are required and the type must be a known kind.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch {
	case w.Kind == nil:
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	case !w.Kind.Valid():
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, *w.Kind)
	case w.Content == nil:
		return Message{}, fmt.Errorf("%w: missing content", ErrMalformedMessage)
	case w.Timestamp == nil || w.Timestamp.IsZero():
		return Message{}, fmt.Errorf("%w: missing timestamp", ErrMalformedMessage)
	}
	return Message{
		Kind:      *w.Kind,
		AgentID:   w.AgentID,
		AgentName: w.AgentName,
		CrewID:    w.CrewID,
		ProjectID: w.ProjectID,
		Content:   *w.Content,
		Metadata:  w.Metadata,
		Timestamp: *w.Timestamp,
	}, nil
}
