// Package bot hosts the request lifecycle coordinator: the long-running
// process that receives chat messages and drives each one through the
// transcription, query, humanization, and chart pipeline with cooperative
// cancellation.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"insightbot/internal/ai"
	"insightbot/internal/chart"
	"insightbot/internal/dataset"
	"insightbot/internal/events"
	"insightbot/internal/lock"
	"insightbot/internal/model"
	"insightbot/internal/transport"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Bot is the main insightbot process.
type Bot struct {
	cfg      model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock    *lock.FileLock
	transport   *transport.WebhookTransport
	dataset     *dataset.Dataset
	handler     *Handler
	bus         *events.Bus
	watcher     *fsnotify.Watcher
	sweepTicker *time.Ticker
	retention   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a Bot logging to <logging.dir>/insightbot.log.
func New(cfg model.Config) (*Bot, error) {
	logPath := filepath.Join(cfg.Logging.Dir, "insightbot.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open bot log: %w", err)
	}
	return newBot(cfg, logFile, logFile), nil
}

// newBot is the internal constructor for testing.
func newBot(cfg model.Config, w io.Writer, closer io.Closer) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	retention := time.Duration(cfg.Bot.DedupRetentionSec) * time.Second
	if retention <= 0 {
		retention = 300 * time.Second
	}

	return &Bot{
		cfg:      cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(cfg.Bot.LockFile),
		dataset:  dataset.New(cfg.Dataset),
		bus:      events.NewBus(100),
		// Sweeping at half the retention window keeps every ledger entry's
		// lifetime under ~1.5x the window.
		sweepTicker: time.NewTicker(retention / 2),
		retention:   retention,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Bus exposes the event bus for observability hooks.
func (b *Bot) Bus() *events.Bus {
	return b.bus
}

// Run starts the bot and blocks until a shutdown signal arrives.
func (b *Bot) Run() error {
	// Step 1: single-instance lock
	if err := b.fileLock.TryLock(); err != nil {
		return fmt.Errorf("bot lock: %w", err)
	}
	b.log(LogLevelInfo, "bot starting pid=%d", os.Getpid())

	// Step 2: dataset
	if err := b.dataset.Load(); err != nil {
		b.cleanup()
		return fmt.Errorf("load dataset: %w", err)
	}
	table, columns := b.dataset.Schema()
	b.log(LogLevelInfo, "dataset loaded table=%s columns=%d", table, len(columns))

	// Step 3: AI services
	aiClient, err := ai.NewClient(b.cfg.OpenAI, b.dataset)
	if err != nil {
		b.cleanup()
		return fmt.Errorf("init openai client: %w", err)
	}

	// Step 4: transport and pipeline handler
	b.transport = transport.New(b.cfg.Transport)
	b.handler = NewHandler(b.cfg, Collaborators{
		Transport:   b.transport,
		Transcriber: aiClient,
		Generator:   aiClient,
		Engine:      b.dataset,
		Humanizer:   aiClient,
		Charts:      chart.NewRenderer(aiClient, b.cfg.Bot.ChartDir),
	}, b.bus, b.logger, b.logLevel)

	b.transport.SetMessageHandler(b.dispatch)

	// Step 5: CSV reload watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	b.watcher = watcher
	if err := watcher.Add(filepath.Dir(b.cfg.Dataset.CSVPath)); err != nil {
		b.cleanup()
		return fmt.Errorf("watch dataset dir: %w", err)
	}

	// Step 6: webhook server
	if err := b.transport.Start(); err != nil {
		b.cleanup()
		return fmt.Errorf("start webhook server: %w", err)
	}

	// Step 7: background loops
	b.wg.Add(2)
	go b.sweepLoop()
	go b.watchLoop()

	b.log(LogLevelInfo, "bot ready listen=%s", b.cfg.Transport.ListenAddr)

	// Step 8: wait for signals
	b.waitSignals()
	return nil
}

// dispatch starts a pipeline run for one inbound message. The WaitGroup add
// happens on the transport's request goroutine, before the webhook responds,
// so shutdown's transport drain always observes it before waiting on the
// group. Messages arriving after shutdown began are dropped.
func (b *Bot) dispatch(msg model.Message) {
	if b.ctx.Err() != nil {
		b.log(LogLevelWarn, "message_dropped_shutdown from=%s id=%s", msg.From, msg.ID)
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handler.HandleMessage(b.ctx, msg)
	}()
}

// sweepLoop evicts expired dedup ledger entries on a fixed interval. It only
// touches the ledger, never the request registry.
func (b *Bot) sweepLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.sweepTicker.C:
			if evicted := b.handler.ledger.SweepExpired(time.Now(), b.retention); evicted > 0 {
				b.log(LogLevelDebug, "dedup_sweep evicted=%d remaining=%d", evicted, b.handler.ledger.Len())
			}
		}
	}
}

// watchLoop reloads the dataset when its CSV file changes on disk.
func (b *Bot) watchLoop() {
	defer b.wg.Done()

	csvPath := filepath.Clean(b.cfg.Dataset.CSVPath)
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != csvPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			start := time.Now()
			if err := b.dataset.Load(); err != nil {
				b.log(LogLevelError, "dataset_reload_failed error=%v", err)
				continue
			}
			b.log(LogLevelInfo, "dataset_reloaded file=%s took=%s", event.Name, time.Since(start))
			b.bus.Publish(events.EventDatasetReloaded, map[string]any{"file": event.Name})
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (b *Bot) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	b.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit.
	go func() {
		<-sigCh
		b.log(LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	b.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (b *Bot) Shutdown() {
	b.shutdown.Do(func() {
		b.log(LogLevelInfo, "shutdown started")

		// 1. Stop accepting new work.
		b.cancel()
		b.sweepTicker.Stop()
		if b.watcher != nil {
			b.watcher.Close()
		}

		timeout := b.cfg.Bot.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer stopCancel()

		if b.transport != nil {
			if err := b.transport.Stop(stopCtx); err != nil {
				b.log(LogLevelWarn, "webhook shutdown error=%v", err)
			}
		}

		// 2. Drain in-flight pipelines.
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			b.log(LogLevelInfo, "all pipelines drained")
		case <-stopCtx.Done():
			b.log(LogLevelWarn, "shutdown timeout after %ds, some pipelines may be incomplete", timeout)
		}

		// 3. Cleanup.
		b.cleanup()
		b.log(LogLevelInfo, "bot stopped")
	})
}

// cleanup releases resources.
func (b *Bot) cleanup() {
	b.dataset.Close()
	b.bus.Close()
	b.fileLock.Unlock()
	if b.logFile != nil {
		b.logFile.Close()
	}
}

func (b *Bot) log(level LogLevel, format string, args ...any) {
	if level < b.logLevel {
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
	b.logger.Printf("%s %s bot: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
