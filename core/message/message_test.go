package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCommandSynonyms(t *testing.T) {
	cases := map[string]string{
		"menu":        "menu",
		"MENÚ":        "menu",
		" Inicio ":    "menu",
		"finalizar":   "finalizar",
		"Terminar":    "finalizar",
		"SALIR":       "finalizar",
		"hola":        "",
		"quiero menu": "",
		"":            "",
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractCommand(in), "input %q", in)
	}
}

func TestExtractCommandButtonVariants(t *testing.T) {
	// Some clients flatten interactive replies into text, occasionally
	// with the label and id newline-joined.
	require.Equal(t, "validar_pago", ExtractCommand("validar_pago"))
	require.Equal(t, "validar_pago", ExtractCommand("✅ Validar Pago"))
	require.Equal(t, "validar_pago", ExtractCommand("Validar pago\nvalidar_pago"))
}

func TestBodyPrefersButtonID(t *testing.T) {
	m := Inbound{Text: "Crear ticket", ButtonID: "ticket_crear"}
	require.Equal(t, "ticket_crear", m.Body())

	m = Inbound{Text: "hola"}
	require.Equal(t, "hola", m.Body())
}
