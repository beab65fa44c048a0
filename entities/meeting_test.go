package entities

import (
	"testing"
	"time"

	"meeting-bot/constant"
)

func TestNewMeetingIDIsStable(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	a := NewMeetingID("https://meet.google.com/abc-defg-hij", start, "evt-1")
	b := NewMeetingID("https://meet.google.com/abc-defg-hij", start.UTC(), "evt-1")
	if a != b {
		t.Fatalf("expected id to ignore timezone, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if c := NewMeetingID("https://meet.google.com/abc-defg-hij", start, "evt-2"); c == a {
		t.Fatalf("expected different source event to change the id")
	}
}

func TestMeetingEqualUsesURLAndStart(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	a := NewMeeting("Standup", "https://zoom.us/j/123", start, end, constant.SourceGmail, "g-1")
	b := NewMeeting("Daily standup", "https://zoom.us/j/123", start, end, constant.SourceOutlook, "o-9")
	if !a.Equal(b) {
		t.Fatalf("expected meetings from different sources to be equal")
	}
	if a.ID == b.ID {
		t.Fatalf("expected ids to still differ by source event id")
	}
	c := NewMeeting("Standup", "https://zoom.us/j/123", start.Add(time.Minute), end, constant.SourceGmail, "g-1")
	if a.Equal(c) {
		t.Fatalf("expected different start time to break equality")
	}
}

func TestMeetingTimeChecks(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := NewMeeting("", "https://teams.microsoft.com/l/meetup-join/x", start, start.Add(30*time.Minute), constant.SourceManual, "")

	if m.HasStarted(start.Add(-time.Second)) {
		t.Fatalf("meeting should not have started yet")
	}
	if !m.InProgress(start.Add(10 * time.Minute)) {
		t.Fatalf("meeting should be in progress")
	}
	if !m.HasEnded(start.Add(30 * time.Minute)) {
		t.Fatalf("meeting should have ended at its end time")
	}
	if m.MaxRejoinAttempts != DefaultMaxRejoinAttempts {
		t.Fatalf("expected default rejoin attempts, got %d", m.MaxRejoinAttempts)
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := map[string]constant.Platform{
		"https://meet.google.com/abc-defg-hij":            constant.PlatformGoogleMeet,
		"https://us02web.zoom.us/j/8812345678?pwd=x":      constant.PlatformZoom,
		"https://zoom.us/j/1":                             constant.PlatformZoom,
		"https://teams.microsoft.com/l/meetup-join/19%3a": constant.PlatformTeams,
		"https://teams.live.com/meet/9381":                constant.PlatformTeams,
		"https://example.com/meeting":                     constant.PlatformUnknown,
		"not a url":                                       constant.PlatformUnknown,
	}
	for raw, want := range cases {
		if got := DetectPlatform(raw); got != want {
			t.Fatalf("DetectPlatform(%q) = %s, want %s", raw, got, want)
		}
	}
}
