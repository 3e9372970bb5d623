package bot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"insightbot/internal/model"
)

// ConvertFunc converts an audio file between formats. The default shells out
// to ffmpeg; tests substitute their own.
type ConvertFunc func(ctx context.Context, ffmpegPath, src, dst string) error

// SetConverter overrides the audio converter for testing.
func (h *Handler) SetConverter(fn ConvertFunc) {
	h.convert = fn
}

// resolveAudio downloads the voice note, converts it to WAV, and transcribes
// it. The temp files belong to this run alone and are removed on every exit
// path, including errors and cancellation.
func (h *Handler) resolveAudio(ctx context.Context, msg model.Message, requestID string) (string, error) {
	data, err := h.transport.DownloadMedia(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	if err := os.MkdirAll(h.cfg.Bot.AudioDir, 0755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	stem := sanitizeFileStem(msg.ID)
	oggPath := filepath.Join(h.cfg.Bot.AudioDir, stem+".ogg")
	wavPath := filepath.Join(h.cfg.Bot.AudioDir, stem+".wav")
	defer func() {
		os.Remove(oggPath)
		os.Remove(wavPath)
	}()

	if err := os.WriteFile(oggPath, data, 0644); err != nil {
		return "", fmt.Errorf("save audio: %w", err)
	}

	if h.cancelled(msg.From, requestID) {
		return "", errCancelled
	}

	if err := h.convert(ctx, h.cfg.Bot.FFmpegPath, oggPath, wavPath); err != nil {
		return "", fmt.Errorf("convert audio: %w", err)
	}

	transcript, err := h.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}

	if h.cancelled(msg.From, requestID) {
		return "", errCancelled
	}
	return transcript, nil
}

// ffmpegConvert turns the downloaded voice note into 16 kHz mono PCM WAV,
// the format the transcription model expects.
func ffmpegConvert(ctx context.Context, ffmpegPath, src, dst string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-y", "-i", src,
		"-f", "wav", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// sanitizeFileStem keeps message-ID derived file names inside the audio dir
// no matter what the gateway puts in the ID.
func sanitizeFileStem(id string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, id)
}
