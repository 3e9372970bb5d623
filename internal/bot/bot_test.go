package bot

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/model"
)

func TestNewBot_ClampsRetention(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Bot.DedupRetentionSec = 0

	b := newBot(cfg, io.Discard, nil)
	defer b.sweepTicker.Stop()

	// The sweep loop and the ticker must share the clamped window; a raw zero
	// retention would evict every ledger entry on each tick.
	assert.Equal(t, 300*time.Second, b.retention)
}

func TestDispatch_RunsPipeline(t *testing.T) {
	tp := newTestPipeline(t, nil)
	b := newBot(tp.handler.cfg, io.Discard, nil)
	defer b.sweepTicker.Stop()
	b.handler = tp.handler

	b.dispatch(textMessage("m1", "total sales"))
	b.wg.Wait()

	assert.Equal(t, 1, tp.generator.callCount())
}

func TestDispatch_DropsAfterShutdownBegins(t *testing.T) {
	tp := newTestPipeline(t, nil)
	b := newBot(tp.handler.cfg, io.Discard, nil)
	defer b.sweepTicker.Stop()
	b.handler = tp.handler

	b.cancel()
	b.dispatch(textMessage("m1", "total sales"))
	b.wg.Wait()

	require.Equal(t, 0, tp.generator.callCount())
	assert.Empty(t, tp.transport.sentTexts(), "no pipeline may start once shutdown has begun")
}
