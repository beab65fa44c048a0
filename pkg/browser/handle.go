package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
	"meeting-bot/entities"
	"meeting-bot/service"
)

const (
	audioBinding    = "sendAudioChunk"
	audioFlushDelay = 1500 * time.Millisecond
	leaveTimeout    = 5 * time.Second
)

var errNoVideo = errors.New("page video is not being captured")

// Handle is a joined meeting page. It lives in its own incognito context and
// owns the screencast started for it.
type Handle struct {
	meetingID string
	flow      flow
	page      *rod.Page
	incognito *rod.Browser
	video     *screencast

	mu        sync.Mutex
	stopAudio func() error
	closed    bool
}

var (
	_ service.MeetingHandle = (*Handle)(nil)
	_ service.CaptionSource = (*Handle)(nil)
)

func (h *Handle) eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := h.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (h *Handle) InMeeting(ctx context.Context) (bool, error) {
	v, err := h.eval(ctx, inMeetingJS, h.flow.leaveSelectors)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (h *Handle) Removed(ctx context.Context) (bool, error) {
	v, err := h.eval(ctx, removedJS, h.flow.removedTexts)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (h *Handle) ActiveSpeakers(ctx context.Context) ([]string, error) {
	if h.flow.speakersScript == "" {
		return nil, nil
	}
	v, err := h.eval(ctx, h.flow.speakersScript)
	if err != nil {
		return nil, err
	}
	return decodeStrings(v)
}

func (h *Handle) Participants(ctx context.Context) ([]entities.ParticipantSnapshot, error) {
	if h.flow.participantsScript == "" {
		return nil, nil
	}
	v, err := h.eval(ctx, h.flow.participantsScript)
	if err != nil {
		return nil, err
	}
	var out []entities.ParticipantSnapshot
	if err := decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handle) installCaptions(ctx context.Context) error {
	if h.flow.captionsScript == "" {
		return nil
	}
	_, err := h.eval(ctx, h.flow.captionsScript)
	return err
}

func (h *Handle) Captions(ctx context.Context) ([]entities.TranscriptLine, error) {
	if h.flow.captionsScript == "" {
		return nil, nil
	}
	v, err := h.eval(ctx, drainCaptionsJS)
	if err != nil {
		return nil, err
	}
	return decodeCaptions(v)
}

func (h *Handle) VideoStartedAt() time.Time {
	if h.video == nil {
		return time.Time{}
	}
	return h.video.startedAt()
}

func (h *Handle) StartInPageAudio(ctx context.Context, sink service.AudioChunkSink) (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopAudio != nil {
		return time.Time{}, errors.New("in-page audio already running")
	}

	logger := zerolog.Ctx(ctx)
	stop, err := h.page.Expose(audioBinding, func(data gson.JSON) (interface{}, error) {
		chunk, err := base64.StdEncoding.DecodeString(data.Str())
		if err != nil {
			logger.Debug().Err(err).Msg("dropping malformed audio chunk")
			return nil, nil
		}
		sink(chunk)
		return nil, nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("expose audio binding: %w", err)
	}

	v, err := h.eval(ctx, startAudioJS)
	if err != nil {
		_ = stop()
		return time.Time{}, fmt.Errorf("start page recorder: %w", err)
	}
	h.stopAudio = stop
	return time.UnixMilli(int64(v.Num())).UTC(), nil
}

func (h *Handle) StopInPageAudio(ctx context.Context) error {
	h.mu.Lock()
	stop := h.stopAudio
	h.stopAudio = nil
	h.mu.Unlock()
	if stop == nil {
		return nil
	}

	_, err := h.eval(ctx, stopAudioJS)
	// the final chunk is delivered asynchronously after the recorder stops
	select {
	case <-time.After(audioFlushDelay):
	case <-ctx.Done():
	}
	return errors.Join(err, stop())
}

func (h *Handle) StopVideo(ctx context.Context) (string, error) {
	if h.video == nil {
		return "", errNoVideo
	}
	path, err := h.video.stop()
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Debug().Str("path", path).Msg("page video finalized")
	return path, nil
}

// Close leaves the meeting and releases the page, its context and its
// screencast. It is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	logger := zerolog.Ctx(ctx)
	leaveCtx, cancel := context.WithTimeout(ctx, leaveTimeout)
	if _, err := h.eval(leaveCtx, clickLeaveJS, h.flow.leaveSelectors); err != nil {
		logger.Debug().Err(err).Msg("leave click failed")
	}
	cancel()

	var errs []error
	if err := h.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	if h.incognito != nil {
		if err := h.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser context: %w", err))
		}
	}
	if h.video != nil {
		if _, err := h.video.stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop screencast: %w", err))
		}
	}
	logger.Info().Str("meeting_id", h.meetingID).Msg("meeting page closed")
	return errors.Join(errs...)
}

func decode(v gson.JSON, out any) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func decodeStrings(v gson.JSON) ([]string, error) {
	var raw []string
	if err := decode(v, &raw); err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

type captionRecord struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Ts      int64  `json:"ts"`
}

func decodeCaptions(v gson.JSON) ([]entities.TranscriptLine, error) {
	var records []captionRecord
	if err := decode(v, &records); err != nil {
		return nil, err
	}
	lines := make([]entities.TranscriptLine, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		lines = append(lines, entities.TranscriptLine{
			Speaker:   strings.TrimSpace(r.Speaker),
			Text:      strings.TrimSpace(r.Text),
			Timestamp: time.UnixMilli(r.Ts).UTC(),
		})
	}
	return lines, nil
}
