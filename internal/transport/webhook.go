// Package transport connects the bot to a messaging gateway. Inbound message
// events arrive as webhook POSTs; outbound sends and media downloads go to
// the gateway's HTTP API.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"insightbot/internal/model"
)

// MessageHandler receives each inbound message. It is invoked on the request
// goroutine before the webhook responds 202 and must not block; the bot's
// handler hands the pipeline off to its own goroutine.
type MessageHandler func(model.Message)

type WebhookTransport struct {
	cfg       model.TransportConfig
	engine    *gin.Engine
	srv       *http.Server
	client    *http.Client
	onMessage MessageHandler
}

type inboundEvent struct {
	ID        string `json:"id"`
	From      string `json:"from" binding:"required"`
	Body      string `json:"body"`
	HasMedia  bool   `json:"has_media"`
	MediaType string `json:"media_type"`
}

func New(cfg model.TransportConfig) *WebhookTransport {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	t := &WebhookTransport{
		cfg:    cfg,
		engine: engine,
		client: &http.Client{Timeout: 60 * time.Second},
	}

	engine.POST("/webhook", t.handleInbound)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return t
}

// SetMessageHandler wires the pipeline entry point. Must be called before
// Start.
func (t *WebhookTransport) SetMessageHandler(fn MessageHandler) {
	t.onMessage = fn
}

// Engine exposes the router for tests.
func (t *WebhookTransport) Engine() *gin.Engine {
	return t.engine
}

// Start binds the listen address and serves the webhook in the background.
func (t *WebhookTransport) Start() error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.ListenAddr, err)
	}
	t.srv = &http.Server{Handler: t.engine}
	go func() {
		_ = t.srv.Serve(ln)
	}()
	return nil
}

// Stop shuts the webhook server down, waiting for in-flight requests up to
// the context deadline.
func (t *WebhookTransport) Stop(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}

func (t *WebhookTransport) handleInbound(c *gin.Context) {
	if t.cfg.Token != "" && c.GetHeader("Authorization") != "Bearer "+t.cfg.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var in inboundEvent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := in.ID
	if id == "" {
		// Gateways that do not assign delivery IDs get one here; dedup then
		// only catches retries of the same HTTP request upstream of us.
		id = uuid.NewString()
	}

	msg := model.Message{
		ID:        id,
		From:      in.From,
		Body:      in.Body,
		HasMedia:  in.HasMedia,
		MediaType: in.MediaType,
	}

	if h := t.onMessage; h != nil {
		h(msg)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": id})
}

// SendText delivers a text reply to the user via the gateway.
func (t *WebhookTransport) SendText(ctx context.Context, userID, text string) error {
	return t.post(ctx, "/send", map[string]any{
		"to":   userID,
		"text": text,
	})
}

// SendImage delivers a local image file to the user via the gateway.
func (t *WebhookTransport) SendImage(ctx context.Context, userID, imagePath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return t.post(ctx, "/send-image", map[string]any{
		"to":       userID,
		"filename": filepath.Base(imagePath),
		"image":    base64.StdEncoding.EncodeToString(data),
	})
}

// DownloadMedia fetches the attachment bytes for a message from the gateway.
func (t *WebhookTransport) DownloadMedia(ctx context.Context, msg model.Message) ([]byte, error) {
	url := t.cfg.GatewayURL + "/media/" + msg.ID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: gateway returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

func (t *WebhookTransport) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.GatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: gateway returned %s", path, resp.Status)
	}
	return nil
}

func (t *WebhookTransport) authorize(req *http.Request) {
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
}
