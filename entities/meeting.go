package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"meeting-bot/constant"
)

const DefaultMaxRejoinAttempts = 3

// Meeting describes a single scheduled or manual meeting the bot may attend.
// Two meetings are the same meeting when their URL and start time match,
// regardless of which source reported them.
type Meeting struct {
	ID                string            `json:"meeting_id"`
	Title             string            `json:"title"`
	URL               string            `json:"url"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           time.Time         `json:"end_time"`
	Platform          constant.Platform `json:"platform"`
	Source            constant.Source   `json:"source"`
	SourceEventID     string            `json:"source_event_id,omitempty"`
	Organizer         string            `json:"organizer,omitempty"`
	Description       string            `json:"description,omitempty"`
	BotName           string            `json:"bot_name,omitempty"`
	IsScheduled       bool              `json:"is_scheduled"`
	IsJoined          bool              `json:"is_joined"`
	IsCompleted       bool              `json:"is_completed"`
	WasKicked         bool              `json:"was_kicked"`
	RejoinAttempts    int               `json:"rejoin_attempts"`
	MaxRejoinAttempts int               `json:"max_rejoin_attempts"`
}

// NewMeetingID derives a stable 16 hex character id from the meeting URL,
// its start time and the id the source used for the event.
func NewMeetingID(meetingURL string, start time.Time, sourceEventID string) string {
	sum := sha256.Sum256([]byte(meetingURL + "|" + start.UTC().Format(time.RFC3339) + "|" + sourceEventID))
	return hex.EncodeToString(sum[:])[:16]
}

func NewMeeting(title, meetingURL string, start, end time.Time, source constant.Source, sourceEventID string) *Meeting {
	start = start.UTC()
	end = end.UTC()
	return &Meeting{
		ID:                NewMeetingID(meetingURL, start, sourceEventID),
		Title:             title,
		URL:               meetingURL,
		StartTime:         start,
		EndTime:           end,
		Platform:          DetectPlatform(meetingURL),
		Source:            source,
		SourceEventID:     sourceEventID,
		MaxRejoinAttempts: DefaultMaxRejoinAttempts,
	}
}

// Equal reports whether both meetings are the same occurrence, even when
// different sources reported them.
func (m *Meeting) Equal(other *Meeting) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.URL == other.URL && m.StartTime.Equal(other.StartTime)
}

func (m *Meeting) HasStarted(now time.Time) bool {
	return !now.Before(m.StartTime)
}

func (m *Meeting) HasEnded(now time.Time) bool {
	return !m.EndTime.IsZero() && !now.Before(m.EndTime)
}

func (m *Meeting) InProgress(now time.Time) bool {
	return m.HasStarted(now) && !m.HasEnded(now)
}

// Duration is zero when the end time is unknown or precedes the start.
func (m *Meeting) Duration() time.Duration {
	if m.EndTime.Before(m.StartTime) {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// DetectPlatform maps a meeting link to the conferencing platform serving it.
func DetectPlatform(rawURL string) constant.Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return constant.PlatformUnknown
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "meet.google.com":
		return constant.PlatformGoogleMeet
	case host == "zoom.us" || strings.HasSuffix(host, ".zoom.us"):
		return constant.PlatformZoom
	case host == "teams.microsoft.com" || host == "teams.live.com" ||
		strings.HasSuffix(host, ".teams.microsoft.com"):
		return constant.PlatformTeams
	}
	return constant.PlatformUnknown
}
