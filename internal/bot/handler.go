package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"insightbot/internal/dedup"
	"insightbot/internal/events"
	"insightbot/internal/limiter"
	"insightbot/internal/model"
	"insightbot/internal/registry"
)

// Collaborator contracts the pipeline consumes. The bot wires the real
// implementations; tests substitute fakes.
type (
	// Transport sends replies and fetches attachments.
	Transport interface {
		SendText(ctx context.Context, userID, text string) error
		SendImage(ctx context.Context, userID, imagePath string) error
		DownloadMedia(ctx context.Context, msg model.Message) ([]byte, error)
	}

	// Transcriber converts a local audio file into text.
	Transcriber interface {
		Transcribe(ctx context.Context, audioFilePath string) (string, error)
	}

	// QueryGenerator turns user text into a data query. An empty SQL string
	// means the question could not be understood.
	QueryGenerator interface {
		GenerateQuery(ctx context.Context, userText string) (model.Query, error)
	}

	// QueryExecutor runs a query against the dataset.
	QueryExecutor interface {
		Execute(ctx context.Context, query string) ([]model.Row, error)
	}

	// Humanizer converts raw rows into a natural-language reply.
	Humanizer interface {
		Humanize(ctx context.Context, userText, data, query string) (string, error)
	}

	// ChartRenderer draws a chart image and returns its file path.
	ChartRenderer interface {
		Render(ctx context.Context, userText, data string) (string, error)
	}
)

// Collaborators bundles the external services a Handler talks to.
type Collaborators struct {
	Transport   Transport
	Transcriber Transcriber
	Generator   QueryGenerator
	Engine      QueryExecutor
	Humanizer   Humanizer
	Charts      ChartRenderer
}

// errCancelled signals that a checkpoint observed a cancel request. It is a
// control-flow marker, not a failure: the run ends silently.
var errCancelled = errors.New("request cancelled")

// Handler drives one inbound message through the pipeline: ack, dedup,
// registration, input resolution, query generation, execution, humanization,
// delivery, finalize. Cancellation is polled between stages; an in-flight
// external call is never interrupted, only its result discarded.
type Handler struct {
	cfg      model.Config
	logger   *log.Logger
	logLevel LogLevel

	registry *registry.Registry
	ledger   *dedup.Ledger
	limiter  *limiter.Limiter

	transport   Transport
	transcriber Transcriber
	generator   QueryGenerator
	engine      QueryExecutor
	humanizer   Humanizer
	charts      ChartRenderer

	bus     *events.Bus
	convert ConvertFunc
	now     func() time.Time
}

func NewHandler(cfg model.Config, col Collaborators, bus *events.Bus, logger *log.Logger, logLevel LogLevel) *Handler {
	return &Handler{
		cfg:         cfg,
		logger:      logger,
		logLevel:    logLevel,
		registry:    registry.New(),
		ledger:      dedup.New(),
		limiter:     limiter.New(cfg.Limits.MaxConcurrent),
		transport:   col.Transport,
		transcriber: col.Transcriber,
		generator:   col.Generator,
		engine:      col.Engine,
		humanizer:   col.Humanizer,
		charts:      col.Charts,
		bus:         bus,
		convert:     ffmpegConvert,
		now:         time.Now,
	}
}

// HandleMessage processes one inbound message end to end. It blocks until
// the pipeline run finishes; the transport invokes it on its own goroutine.
func (h *Handler) HandleMessage(ctx context.Context, msg model.Message) {
	user := msg.From
	command := strings.ToLower(strings.TrimSpace(msg.Body))

	h.log(LogLevelInfo, "message_received from=%s id=%s", user, msg.ID)

	// Acknowledge immediately, before any heavy work.
	h.sendText(ctx, user, msgAck)

	if command == strings.ToLower(h.cfg.Bot.CancelCommand) {
		h.handleCancel(ctx, user)
		return
	}

	if h.ledger.HasSeen(msg.ID) {
		h.log(LogLevelDebug, "duplicate_dropped id=%s", msg.ID)
		return
	}
	h.ledger.MarkSeen(msg.ID, h.now())

	rec, err := h.registry.Register(user)
	if err != nil {
		h.log(LogLevelError, "register_failed user=%s error=%v", user, err)
		h.sendText(ctx, user, msgApology)
		return
	}
	// Finalize on every exit path; a leaked record would make later cancels
	// target a finished request and never be collected.
	defer h.registry.Finalize(user, rec.ID)

	h.publish(events.EventRequestStarted, user, rec.ID)

	err = h.limiter.Do(ctx, func() error {
		return h.runPipeline(ctx, msg, rec.ID)
	})
	switch {
	case err == nil:
		h.publish(events.EventRequestCompleted, user, rec.ID)
	case errors.Is(err, errCancelled):
		h.log(LogLevelInfo, "request_cancelled user=%s request=%s", user, rec.ID)
		h.publish(events.EventRequestCancelled, user, rec.ID)
	default:
		h.log(LogLevelError, "pipeline_failed user=%s request=%s error=%v", user, rec.ID, err)
		h.publish(events.EventRequestFailed, user, rec.ID)
		if !h.registry.IsCancelled(user, rec.ID) {
			h.sendText(ctx, user, msgApology)
		}
	}
}

// runPipeline executes stages 4-8: input resolution, query generation,
// execution, humanization, delivery. Each stage boundary polls cancellation.
func (h *Handler) runPipeline(ctx context.Context, msg model.Message, requestID string) error {
	user := msg.From
	input := msg.Body
	wantsChart := h.cfg.Bot.ChartTrigger != "" && strings.Contains(msg.Body, h.cfg.Bot.ChartTrigger)

	if msg.IsAudio() {
		transcript, err := h.resolveAudio(ctx, msg, requestID)
		if err != nil {
			return err
		}
		input = transcript
	}

	if h.cancelled(user, requestID) {
		return errCancelled
	}

	q, err := h.generator.GenerateQuery(ctx, input)
	if err != nil {
		return fmt.Errorf("generate query: %w", err)
	}

	if h.cancelled(user, requestID) {
		return errCancelled
	}

	if q.SQL == "" {
		h.sendText(ctx, user, msgNotUnderstood)
		return nil
	}

	rows, err := h.engine.Execute(ctx, q.SQL)
	if err != nil {
		// A generated query the engine rejects reads as a data problem to the
		// user, distinct from "not understood".
		h.log(LogLevelWarn, "query_failed request=%s error=%v", requestID, err)
		if !h.cancelled(user, requestID) {
			h.sendText(ctx, user, msgQueryFailed)
		}
		return nil
	}

	if h.cancelled(user, requestID) {
		return errCancelled
	}

	data := stringifyRows(rows, h.cfg.Limits.MaxRows)

	reply, err := h.humanizer.Humanize(ctx, input, data, q.SQL)
	if err != nil {
		h.log(LogLevelWarn, "humanizer_failed request=%s error=%v", requestID, err)
		reply = msgApology
	}

	if h.cancelled(user, requestID) {
		return errCancelled
	}

	if err := h.transport.SendText(ctx, user, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	if wantsChart {
		imagePath, err := h.charts.Render(ctx, input, data)
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		// The PNG only exists to be delivered; keeping it would grow the chart
		// dir without bound.
		defer os.Remove(imagePath)
		if err := h.transport.SendImage(ctx, user, imagePath); err != nil {
			return fmt.Errorf("send chart: %w", err)
		}
	}
	return nil
}

// handleCancel flags the user's most recent in-flight request. The cancel
// command itself is never registered or deduplicated.
func (h *Handler) handleCancel(ctx context.Context, user string) {
	if id, ok := h.registry.CancelLast(user); ok {
		h.log(LogLevelInfo, "cancel_requested user=%s request=%s", user, id)
		h.sendText(ctx, user, msgCancelled)
		return
	}
	h.sendText(ctx, user, msgNothingToCancel)
}

func (h *Handler) cancelled(user, requestID string) bool {
	return h.registry.IsCancelled(user, requestID)
}

// stringifyRows renders result rows as one JSON object per line, capped at
// maxRows. Zero rows become a fixed sentinel the humanizer can phrase.
func stringifyRows(rows []model.Row, maxRows int) string {
	if len(rows) == 0 {
		return msgNoResults
	}
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	var b strings.Builder
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (h *Handler) sendText(ctx context.Context, user, text string) {
	if err := h.transport.SendText(ctx, user, text); err != nil {
		h.log(LogLevelWarn, "send_failed user=%s error=%v", user, err)
	}
}

func (h *Handler) publish(eventType events.EventType, user, requestID string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventType, map[string]any{
		"user_id":    user,
		"request_id": requestID,
	})
}

func (h *Handler) log(level LogLevel, format string, args ...any) {
	if level < h.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	h.logger.Printf("%s %s handler: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
