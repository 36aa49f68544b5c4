// Package protocol defines the envelopes exchanged between a connection
// pool and the remote store.
package protocol

import (
	"encoding/json"

	"github.com/raskyld/shapesync/pkg/patch"
)

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	// Request asks the store to open a connection on a shape.
	Request MessageType = "Request"
	// InitialResponse carries the snapshot hydrating a connection.
	InitialResponse MessageType = "InitialResponse"
	// FrontendUpdate carries a diff produced by a local writer.
	FrontendUpdate MessageType = "FrontendUpdate"
	// BackendUpdate carries a diff produced by the store.
	BackendUpdate MessageType = "BackendUpdate"
	// Stop closes a connection. Nothing is expected back.
	Stop MessageType = "Stop"
)

func (t MessageType) Valid() bool {
	switch t {
	case Request, InitialResponse, FrontendUpdate, BackendUpdate, Stop:
		return true
	}
	return false
}

// ShapeDescriptor identifies a shape. Schema is produced by an external
// schema compiler and is forwarded untouched.
type ShapeDescriptor struct {
	ID     string          `json:"id"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

func (d ShapeDescriptor) Clone() ShapeDescriptor {
	if d.Schema != nil {
		d.Schema = append(json.RawMessage(nil), d.Schema...)
	}
	return d
}

// Envelope is the single message type of the protocol. Which optional
// field is set depends on Type.
type Envelope struct {
	Type            MessageType      `json:"type"`
	ConnectionID    string           `json:"connectionId"`
	Diff            patch.Diff       `json:"diff,omitempty"`
	ShapeDescriptor *ShapeDescriptor `json:"shapeDescriptor,omitempty"`
	InitialData     map[string]any   `json:"initialData,omitempty"`
	Scope           []string         `json:"scope,omitempty"`
}

func NewRequest(connID string, shape ShapeDescriptor, scope []string) Envelope {
	shape = shape.Clone()
	return Envelope{
		Type:            Request,
		ConnectionID:    connID,
		ShapeDescriptor: &shape,
		Scope:           append([]string(nil), scope...),
	}
}

// NewInitialResponse converts data to its wire form, sets become arrays.
func NewInitialResponse(connID string, data patch.Object) Envelope {
	initial, _ := patch.ToWire(data).(map[string]any)
	if initial == nil {
		initial = map[string]any{}
	}
	return Envelope{
		Type:         InitialResponse,
		ConnectionID: connID,
		InitialData:  initial,
	}
}

func NewFrontendUpdate(connID string, diff patch.Diff) Envelope {
	return Envelope{Type: FrontendUpdate, ConnectionID: connID, Diff: diff}
}

func NewBackendUpdate(connID string, diff patch.Diff) Envelope {
	return Envelope{Type: BackendUpdate, ConnectionID: connID, Diff: diff}
}

func NewStop(connID string) Envelope {
	return Envelope{Type: Stop, ConnectionID: connID}
}

// Clone returns a deep copy, so that an envelope crossing an in-process
// flow shares nothing with the sender.
func (e Envelope) Clone() interface{} {
	return e.DeepCopy()
}

func (e Envelope) DeepCopy() Envelope {
	c := e
	if e.Diff != nil {
		c.Diff = make(patch.Diff, len(e.Diff))
		for i, p := range e.Diff {
			p.Value = patch.Clone(p.Value)
			c.Diff[i] = p
		}
	}
	if e.ShapeDescriptor != nil {
		shape := e.ShapeDescriptor.Clone()
		c.ShapeDescriptor = &shape
	}
	if e.InitialData != nil {
		c.InitialData = patch.CloneObject(e.InitialData)
	}
	if e.Scope != nil {
		c.Scope = append([]string(nil), e.Scope...)
	}
	return c
}
