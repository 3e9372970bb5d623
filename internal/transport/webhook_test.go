package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/model"
)

func postWebhook(t *testing.T, tr *WebhookTransport, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	tr.Engine().ServeHTTP(w, req)
	return w
}

func TestHandleInbound(t *testing.T) {
	tr := New(model.TransportConfig{})
	received := make(chan model.Message, 1)
	tr.SetMessageHandler(func(m model.Message) { received <- m })

	w := postWebhook(t, tr, `{"id":"m1","from":"user1","body":"total sales"}`, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case msg := <-received:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "user1", msg.From)
		assert.Equal(t, "total sales", msg.Body)
	case <-time.After(time.Second):
		t.Fatal("message handler was not invoked")
	}
}

func TestHandleInbound_AssignsID(t *testing.T) {
	tr := New(model.TransportConfig{})
	received := make(chan model.Message, 1)
	tr.SetMessageHandler(func(m model.Message) { received <- m })

	w := postWebhook(t, tr, `{"from":"user1","body":"hi"}`, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case msg := <-received:
		assert.NotEmpty(t, msg.ID, "transport must assign an ID when the gateway sends none")
	case <-time.After(time.Second):
		t.Fatal("message handler was not invoked")
	}
}

func TestHandleInbound_Validation(t *testing.T) {
	tr := New(model.TransportConfig{})

	w := postWebhook(t, tr, `{"body":"missing from"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(t, tr, `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInbound_TokenCheck(t *testing.T) {
	tr := New(model.TransportConfig{Token: "secret"})

	w := postWebhook(t, tr, `{"from":"user1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWebhook(t, tr, `{"from":"user1"}`, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSendText(t *testing.T) {
	var got map[string]any
	var auth string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	tr := New(model.TransportConfig{GatewayURL: gw.URL, Token: "secret"})
	err := tr.SendText(context.Background(), "user1", "hello")
	require.NoError(t, err)

	assert.Equal(t, "user1", got["to"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Bearer secret", auth)
}

func TestSendText_GatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gw.Close()

	tr := New(model.TransportConfig{GatewayURL: gw.URL})
	err := tr.SendText(context.Background(), "user1", "hello")
	assert.Error(t, err)
}

func TestSendImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(path, []byte("pngbytes"), 0644))

	var got map[string]any
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send-image", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	tr := New(model.TransportConfig{GatewayURL: gw.URL})
	require.NoError(t, tr.SendImage(context.Background(), "user1", path))

	assert.Equal(t, "chart.png", got["filename"])
	assert.NotEmpty(t, got["image"])
}

func TestDownloadMedia(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/media/m1", r.URL.Path)
		w.Write([]byte("oggbytes"))
	}))
	defer gw.Close()

	tr := New(model.TransportConfig{GatewayURL: gw.URL})
	data, err := tr.DownloadMedia(context.Background(), model.Message{ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("oggbytes"), data)
}

func TestDownloadMedia_NotFound(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gw.Close()

	tr := New(model.TransportConfig{GatewayURL: gw.URL})
	_, err := tr.DownloadMedia(context.Background(), model.Message{ID: "m1"})
	assert.Error(t, err)
}
