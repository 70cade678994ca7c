package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"wabot/core/config"
)

func testWAConfig() config.WhatsAppConfig {
	return config.WhatsAppConfig{
		AccessToken:   "tok-123",
		PhoneNumberID: "555000",
		APIVersion:    "v19.0",
	}
}

func TestSendTextPostsCloudAPIPayload(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(testWAConfig(), srv.URL)
	require.NoError(t, c.SendText(context.Background(), "573001112233", "hola"))

	require.Equal(t, "/v19.0/555000/messages", gotPath)
	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, "whatsapp", gotBody["messaging_product"])
	require.Equal(t, "text", gotBody["type"])
	require.Equal(t, "573001112233", gotBody["to"])
	require.Equal(t, "hola", gotBody["text"].(map[string]any)["body"])
}

func TestSendInteractiveCarriesListRows(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(testWAConfig(), srv.URL)
	menu := ListMenu("Soporte", "Elige una opción", "Ver opciones",
		Row{ID: "menu_soporte", Title: "Soporte técnico"},
		Row{ID: "menu_agente", Title: "Hablar con un agente"},
	)
	require.NoError(t, c.SendInteractive(context.Background(), "573001112233", menu))

	require.Equal(t, "interactive", gotBody["type"])
	iv := gotBody["interactive"].(map[string]any)
	require.Equal(t, "list", iv["type"])
	sections := iv["action"].(map[string]any)["sections"].([]any)
	rows := sections[0].(map[string]any)["rows"].([]any)
	require.Len(t, rows, 2)
	require.Equal(t, "menu_soporte", rows[0].(map[string]any)["id"])
}

func TestSendErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(testWAConfig(), srv.URL)

	err := c.SendText(context.Background(), "573001112233", "hola")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, http.StatusInternalServerError, sendErr.Code)
	require.True(t, sendErr.Retryable)

	status = http.StatusBadRequest
	err = c.SendText(context.Background(), "573001112233", "hola")
	require.ErrorAs(t, err, &sendErr)
	require.False(t, sendErr.Retryable)

	status = http.StatusTooManyRequests
	err = c.SendText(context.Background(), "573001112233", "hola")
	require.ErrorAs(t, err, &sendErr)
	require.True(t, sendErr.Retryable)
}

func TestSendTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewWhatsAppClient(testWAConfig(), srv.URL)
	err := c.SendText(context.Background(), "573001112233", "hola")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	require.True(t, sendErr.Retryable)
}
