// Package message defines the inbound WhatsApp Cloud API payload shapes
// and the normalization applied before dispatch.
package message

import "strings"

// Inbound is one user message after webhook decoding.
type Inbound struct {
	ID        string
	From      string // phone number in wa_id form
	Timestamp string
	Type      string // text, interactive, image, audio, document, ...
	Text      string
	ButtonID  string // interactive button_reply / list_reply id
	MediaID   string
}

// Body returns the dispatchable text for the message: the interactive
// reply id when present, otherwise the text body.
func (m Inbound) Body() string {
	if m.ButtonID != "" {
		return m.ButtonID
	}
	return m.Text
}

// navigation synonym sets, matched case-insensitively on the trimmed body.
var commandSynonyms = map[string]string{
	"menu":      "menu",
	"menú":      "menu",
	"inicio":    "menu",
	"finalizar": "finalizar",
	"terminar":  "finalizar",
	"salir":     "finalizar",
}

// ExtractCommand maps free text and button ids onto canonical command
// tokens. Button labels that arrive as text (some clients flatten
// interactive replies, sometimes with embedded newlines) are collapsed
// onto the button id before lookup. Returns "" when the body is not a
// recognized command.
func ExtractCommand(body string) string {
	s := strings.ToLower(strings.TrimSpace(body))
	if s == "" {
		return ""
	}
	// Flattened button variants carry the label and id joined by a
	// newline; keep only one recognizable token.
	if strings.Contains(s, "\n") {
		s = strings.ReplaceAll(s, "\n", " ")
		s = strings.Join(strings.Fields(s), " ")
	}
	if s == "validar_pago" || strings.Contains(s, "validar pago") || strings.Contains(s, "validar_pago") {
		return "validar_pago"
	}
	if cmd, ok := commandSynonyms[s]; ok {
		return cmd
	}
	return ""
}
