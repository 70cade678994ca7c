// Package outbound delivers messages to WhatsApp. The Cloud API client
// implements Sender; the Dispatcher wraps any Sender with a worker pool
// and retry so flow handlers never block on the network.
package outbound

import "context"

// Sender sends messages to one recipient phone.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendInteractive(ctx context.Context, to string, payload Interactive) error
}

// Interactive is the subset of the Cloud API interactive object the bot
// uses: reply buttons and single-section lists.
type Interactive struct {
	Type   string      `json:"type"` // "button" or "list"
	Header *TextHeader `json:"header,omitempty"`
	Body   TextBody    `json:"body"`
	Footer *TextBody   `json:"footer,omitempty"`
	Action Action      `json:"action"`
}

type TextHeader struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type TextBody struct {
	Text string `json:"text"`
}

type Action struct {
	Button   string    `json:"button,omitempty"` // list open button
	Buttons  []Button  `json:"buttons,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

type Button struct {
	Type  string      `json:"type"` // "reply"
	Reply ButtonReply `json:"reply"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ReplyButtons builds a button-type interactive payload.
func ReplyButtons(body string, buttons ...ButtonReply) Interactive {
	action := Action{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, Button{Type: "reply", Reply: b})
	}
	return Interactive{Type: "button", Body: TextBody{Text: body}, Action: action}
}

// ListMenu builds a single-section list payload.
func ListMenu(header, body, open string, rows ...Row) Interactive {
	iv := Interactive{
		Type: "list",
		Body: TextBody{Text: body},
		Action: Action{
			Button:   open,
			Sections: []Section{{Rows: rows}},
		},
	}
	if header != "" {
		iv.Header = &TextHeader{Type: "text", Text: header}
	}
	return iv
}
