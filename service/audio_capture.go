package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/pkg/ffmpeg"
)

const audioSettleTime = time.Second

// PulseAudioCapture records the system audio monitor through ffmpeg.
type PulseAudioCapture struct {
	ffmpegPath  string
	pactlPath   string
	source      string
	maxDuration time.Duration
	grace       time.Duration
}

func NewPulseAudioCapture(cfg config.Recording) *PulseAudioCapture {
	return &PulseAudioCapture{
		ffmpegPath:  cfg.FFmpegPath,
		pactlPath:   cfg.PactlPath,
		source:      cfg.PulseSource,
		maxDuration: cfg.MaxDuration,
		grace:       cfg.StopGrace,
	}
}

// Available reports whether a PulseAudio server answers.
func (c *PulseAudioCapture) Available(ctx context.Context) bool {
	out, err := ffmpeg.Run(ctx, c.pactlPath, "info")
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("pulseaudio not available")
		return false
	}
	return strings.Contains(string(out), "Server Name:")
}

// Source returns the configured capture source, or the monitor of the
// default sink when none is configured.
func (c *PulseAudioCapture) Source(ctx context.Context) string {
	if c.source != "" {
		return c.source
	}
	out, err := ffmpeg.Run(ctx, c.pactlPath, "get-default-sink")
	if sink := strings.TrimSpace(string(out)); err == nil && sink != "" {
		return sink + ".monitor"
	}
	return "default"
}

func (c *PulseAudioCapture) Args(source, output string) []string {
	args := []string{"-y", "-f", "pulse", "-i", source, "-ac", "1", "-ar", "16000"}
	if c.maxDuration > 0 {
		args = append(args, "-t", strconv.Itoa(int(c.maxDuration.Seconds())))
	}
	return append(args, "-c:a", "libopus", "-application", "voip", "-b:a", "32k", "-vbr", "on", output)
}

// Start launches the capture process. It fails when ffmpeg exits during the
// first second, which is how a missing or busy source shows up.
func (c *PulseAudioCapture) Start(ctx context.Context, output string) (*ffmpeg.Process, error) {
	source := c.Source(ctx)
	zerolog.Ctx(ctx).Info().Str("source", source).Str("output", output).Msg("starting pulseaudio capture")
	return ffmpeg.Start(ctx, c.ffmpegPath, c.Args(source, output), c.grace, audioSettleTime)
}
