package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
	"meeting-bot/config"
	"meeting-bot/pkg/ffmpeg"
)

const (
	screencastQuality = 80
	screencastTimeout = 2 * time.Second
)

var errNoFrames = errors.New("page produced no video frames")

func framerate(cfg config.Recording) int {
	if cfg.VideoFrames <= 0 {
		return 15
	}
	return cfg.VideoFrames
}

// screencastArgs encodes a stream of JPEG frames read from stdin.
func screencastArgs(cfg config.Recording, output string) []string {
	return []string{
		"-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(framerate(cfg)),
		"-c:v", "mjpeg",
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-pix_fmt", "yuv420p",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		output,
	}
}

func capturePath(cfg config.Recording, meetingID string, at time.Time) string {
	return filepath.Join(cfg.TempDir, fmt.Sprintf("%s_%d.webm", meetingID, at.Unix()))
}

// frameFeed holds the latest screencast frame of a single page.
type frameFeed struct {
	mu      sync.Mutex
	frame   []byte
	started time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

func newFrameFeed() *frameFeed {
	return &frameFeed{ready: make(chan struct{})}
}

func (f *frameFeed) offer(frame []byte) {
	if len(frame) == 0 {
		return
	}
	f.mu.Lock()
	f.frame = frame
	f.mu.Unlock()
	f.readyOnce.Do(func() { close(f.ready) })
}

func (f *frameFeed) latest() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// startedAt is when the first frame was written, zero before that.
func (f *frameFeed) startedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// run writes the latest frame to w at a constant rate until ctx is done.
// Pages only emit frames when they repaint, so a frame repeats until the
// next one arrives.
func (f *frameFeed) run(ctx context.Context, w io.Writer, fps int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	f.mu.Lock()
	f.started = time.Now()
	f.mu.Unlock()
	for {
		if _, err := w.Write(f.latest()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// screencast records one page through the DevTools screencast, so every
// meeting gets the pixels of its own tab.
type screencast struct {
	path   string
	page   *rod.Page
	feed   *frameFeed
	proc   *ffmpeg.Process
	cancel context.CancelFunc
	pumped chan struct{}

	once sync.Once
	err  error
}

// startScreencast pipes the frames of page into ffmpeg. The capture
// outlives the join context and is only stopped through stop.
func startScreencast(ctx context.Context, cfg config.Recording, page *rod.Page, width, height int, meetingID string) (*screencast, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	path := capturePath(cfg, meetingID, time.Now())
	proc, err := ffmpeg.StartPiped(context.WithoutCancel(ctx), cfg.FFmpegPath, screencastArgs(cfg, path), cfg.StopGrace)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &screencast{
		path:   path,
		page:   page,
		feed:   newFrameFeed(),
		proc:   proc,
		cancel: cancel,
		pumped: make(chan struct{}),
	}

	wait := page.Context(runCtx).EachEvent(func(e *proto.PageScreencastFrame) {
		c.feed.offer(e.Data)
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
	})
	go wait()
	go func() {
		defer close(c.pumped)
		err := c.feed.run(runCtx, proc.Input(), framerate(cfg))
		if err != nil && runCtx.Err() == nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("meeting_id", meetingID).Msg("screencast feed stopped")
		}
	}()

	start := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       gson.Int(screencastQuality),
		MaxWidth:      gson.Int(width),
		MaxHeight:     gson.Int(height),
		EveryNthFrame: gson.Int(1),
	}
	if err := start.Call(page); err != nil {
		_, _ = c.stop()
		return nil, fmt.Errorf("start screencast: %w", err)
	}
	return c, nil
}

func (c *screencast) startedAt() time.Time {
	return c.feed.startedAt()
}

// stop ends the screencast and finalizes the file. It is safe to call more
// than once and after the page is closed.
func (c *screencast) stop() (string, error) {
	c.once.Do(func() {
		p := c.page.Timeout(screencastTimeout)
		_ = proto.PageStopScreencast{}.Call(p)
		p.CancelTimeout()

		c.cancel()
		select {
		case <-c.pumped:
		case <-time.After(screencastTimeout):
		}
		c.err = c.proc.Stop()
		<-c.pumped
	})
	if c.err != nil {
		return "", c.err
	}
	if !c.feed.startedAt().IsZero() {
		return c.path, nil
	}
	return "", errNoFrames
}
