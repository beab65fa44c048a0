// Package browser joins meetings in a shared Chromium instance driven over
// the DevTools protocol. Each meeting gets its own incognito context.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/entities"
	"meeting-bot/service"
)

const (
	findTimeout   = 2 * time.Second
	admitInterval = 2 * time.Second
)

var (
	ErrJoinButtonNotFound = errors.New("join button not found")
	ErrDenied             = errors.New("bot was denied entry")
)

// Joiner implements service.JoinHandler on top of go-rod.
type Joiner struct {
	cfg         config.Browser
	rec         config.Recording
	displayName string

	mu      sync.Mutex
	browser *rod.Browser
}

var _ service.JoinHandler = (*Joiner)(nil)

func NewJoiner(cfg config.Browser, rec config.Recording, displayName string) *Joiner {
	return &Joiner{cfg: cfg, rec: rec, displayName: displayName}
}

func (j *Joiner) launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(j.cfg.Headless).
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("window-size", strconv.Itoa(j.cfg.Width)+","+strconv.Itoa(j.cfg.Height))
	if j.cfg.Bin != "" {
		l = l.Bin(j.cfg.Bin)
	}
	if !j.cfg.Headless && j.rec.VideoDisplay != "" {
		l = l.Env(append(os.Environ(), "DISPLAY="+j.rec.VideoDisplay)...)
	}
	return l
}

// ensureBrowser starts the shared browser on first use.
func (j *Joiner) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.browser != nil {
		return j.browser, nil
	}

	u, err := j.launcher().Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("control_url", u).Msg("browser started")
	j.browser = b
	return b, nil
}

func (j *Joiner) Join(ctx context.Context, meeting *entities.Meeting) (service.MeetingHandle, error) {
	fl, ok := flowFor(meeting.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnsupportedPlatform, meeting.Platform)
	}
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", meeting.ID).Str("platform", meeting.Platform.String()).Logger()

	b, err := j.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	grant := proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeAudioCapture,
			proto.BrowserPermissionTypeVideoCapture,
		},
		BrowserContextID: incognito.BrowserContextID,
	}
	if err := grant.Call(incognito); err != nil {
		logger.Warn().Err(err).Msg("failed to grant media permissions")
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	h := &Handle{meetingID: meeting.ID, flow: fl, page: page, incognito: incognito}
	if j.rec.Enabled {
		if h.video, err = startScreencast(ctx, j.rec, page, j.cfg.Width, j.cfg.Height, meeting.ID); err != nil {
			logger.Warn().Err(err).Msg("page screencast unavailable")
		}
	}

	if err := j.runFlow(logger.WithContext(ctx), h, meeting); err != nil {
		_ = h.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	if err := h.installCaptions(ctx); err != nil {
		logger.Warn().Err(err).Msg("caption capture unavailable")
	}
	logger.Info().Msg("admitted to meeting")
	return h, nil
}

func (j *Joiner) runFlow(ctx context.Context, h *Handle, meeting *entities.Meeting) error {
	logger := zerolog.Ctx(ctx)
	page := h.page.Context(ctx)

	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             j.cfg.Width,
		Height:            j.cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := page.Navigate(meeting.URL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}

	if clickFirst(page, h.flow.continueInBrowser) {
		logger.Debug().Msg("continued in browser")
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("wait load: %w", err)
		}
	}
	clickFirst(page, h.flow.dismiss)

	name := meeting.BotName
	if name == "" {
		name = j.displayName
	}
	if el := findFirst(page, h.flow.nameInputs); el != nil {
		_ = el.SelectAllText()
		if err := el.Input(name); err != nil {
			logger.Warn().Err(err).Msg("failed to enter display name")
		}
	}

	if !clickFirst(page, h.flow.joinButtons) {
		return ErrJoinButtonNotFound
	}
	logger.Info().Str("display_name", name).Msg("join requested, waiting for admission")
	return waitAdmitted(ctx, h)
}

// waitAdmitted polls until the in-meeting controls appear, the bot is
// turned away or ctx expires.
func waitAdmitted(ctx context.Context, h *Handle) error {
	ticker := time.NewTicker(admitInterval)
	defer ticker.Stop()
	for {
		if removed, _ := h.Removed(ctx); removed {
			return ErrDenied
		}
		if in, _ := h.InMeeting(ctx); in {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for admission: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func findFirst(page *rod.Page, targets []target) *rod.Element {
	for _, t := range targets {
		p := page.Timeout(findTimeout)
		var (
			el  *rod.Element
			err error
		)
		if t.text == "" {
			el, err = p.Element(t.css)
		} else {
			el, err = p.ElementR(t.css, t.text)
		}
		if err == nil && el != nil {
			return el.Context(page.GetContext())
		}
	}
	return nil
}

func clickFirst(page *rod.Page, targets []target) bool {
	el := findFirst(page, targets)
	if el == nil {
		return false
	}
	_ = el.ScrollIntoView()
	return el.Click(proto.InputMouseButtonLeft, 1) == nil
}

// Close shuts the shared browser down.
func (j *Joiner) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.browser == nil {
		return nil
	}
	err := j.browser.Close()
	j.browser = nil
	return err
}
