// Package flow defines the conversation-flow contract and the dispatch
// chain that routes each inbound message to at most one flow.
package flow

import (
	"context"

	"wabot/core/message"
	"wabot/core/session"
	"wabot/core/user"
)

// Request carries everything a flow needs to act on one message. Data
// points into the session store; mutations are visible to later steps.
type Request struct {
	Msg  message.Inbound
	Body string // normalized dispatch text
	User *user.User
	Data *session.Data
}

// Phone is the sender's phone number.
func (r *Request) Phone() string { return r.Msg.From }

type outcomeKind int

const (
	outcomeDeclined outcomeKind = iota
	outcomeHandled
	outcomeDelegate
)

// Outcome is a flow's verdict on a message. Exactly one of the three
// constructors applies: consumed, passed on, or redirected to another
// flow within the same dispatch pass.
type Outcome struct {
	kind     outcomeKind
	delegate session.FlowID
}

// Handled marks the message consumed; dispatch stops.
func Handled() Outcome { return Outcome{kind: outcomeHandled} }

// Declined passes the message to the next flow in the chain.
func Declined() Outcome { return Outcome{kind: outcomeDeclined} }

// DelegateTo activates the named flow and hands it the same message.
func DelegateTo(id session.FlowID) Outcome {
	return Outcome{kind: outcomeDelegate, delegate: id}
}

// IsHandled reports whether the message was consumed.
func (o Outcome) IsHandled() bool { return o.kind == outcomeHandled }

// Delegate returns the delegation target, or FlowNone.
func (o Outcome) Delegate() session.FlowID {
	if o.kind != outcomeDelegate {
		return session.FlowNone
	}
	return o.delegate
}

// Flow is one conversation capability. CanHandle must be cheap and
// side-effect free; Handle owns all mutations and replies.
type Flow interface {
	ID() session.FlowID
	CanHandle(ctx context.Context, req *Request) bool
	Handle(ctx context.Context, req *Request) (Outcome, error)
}
