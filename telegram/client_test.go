package telegram_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/telegram"
)

func quiet() telegram.Option {
	return telegram.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSend_DemoModeWithoutCredentials(t *testing.T) {
	for _, tc := range []struct{ token, chat string }{{"", ""}, {"tok", ""}, {"", "123"}} {
		c := telegram.New(tc.token, tc.chat, quiet(), telegram.WithBaseURL("http://127.0.0.1:1"))
		assert.True(t, c.Demo())

		d, err := c.Send(context.Background(), "hola")
		require.NoError(t, err)
		assert.True(t, d.OK)
		assert.Equal(t, telegram.DemoMessageID, d.MessageID)
	}
}

func TestSend_PostsMarkdownMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botsecreto/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"chat":{"id":123}}}`))
	}))
	defer srv.Close()

	c := telegram.New("secreto", "123", quiet(), telegram.WithBaseURL(srv.URL))
	d, err := c.Send(context.Background(), "📬 *Notificación Básica*\n\nhola")
	require.NoError(t, err)

	assert.Equal(t, telegram.Delivery{OK: true, MessageID: "77"}, d)
	assert.Equal(t, "123", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, "📬 *Notificación Básica*\n\nhola", got["text"])
}

func TestSend_APIErrorIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := telegram.New("secreto", "999", quiet(), telegram.WithBaseURL(srv.URL))
	_, err := c.Send(context.Background(), "hola")

	var de *orquesta.DeliveryError
	require.True(t, errors.As(err, &de), "err = %v", err)
	assert.Equal(t, http.StatusBadRequest, de.Status)
	assert.Contains(t, de.Error(), "chat not found")
}

func TestSend_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := telegram.New("supersecreto", "1", quiet(), telegram.WithBaseURL(srv.URL))
	_, err := c.Send(context.Background(), "hola")

	var de *orquesta.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.NotContains(t, err.Error(), "supersecreto")
}

func TestFetchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/botsecreto/getUpdates", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":1,"message":{"message_id":5,"text":"hola","chat":{"id":42,"first_name":"Ana","username":"ana"}}},
			{"update_id":2}
		]}`))
	}))
	defer srv.Close()

	c := telegram.New("secreto", "", quiet(), telegram.WithBaseURL(srv.URL))
	updates, err := c.FetchRecent(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(42), updates[0].Message.Chat.ID)
	assert.Equal(t, "Ana", updates[0].Message.Chat.FirstName)
	assert.Nil(t, updates[1].Message)
}

func TestFetchRecent_RequiresToken(t *testing.T) {
	_, err := telegram.New("", "123", quiet()).FetchRecent(context.Background())

	var ce *orquesta.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "TELEGRAM_BOT_TOKEN", ce.Key)
	assert.Equal(t, "orquesta: TELEGRAM_BOT_TOKEN no configurado", err.Error())
}
