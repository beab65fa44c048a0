package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
)

func newTestBot(t *testing.T, poller Poller) (*Bot, *managerFixture) {
	t.Helper()
	cfg := testBotConfig()
	cfg.ManualMaxDuration = 4 * time.Hour
	f := newManagerFixture(t, cfg)
	s := NewScheduler(testSchedulerConfig(), poller, f.manager)
	bot := NewBot(cfg, s, f.manager)
	t.Cleanup(func() { _ = bot.Stop(context.Background()) })
	return bot, f
}

func TestManualJoinSynthesizesMeeting(t *testing.T) {
	bot, f := newTestBot(t, nil)
	ctx := context.Background()
	bot.Start(ctx)

	m, err := bot.ManualJoin(ctx, "Note Taker", "https://meet.google.com/abc-defg-hij")
	if err != nil {
		t.Fatalf("manual join: %v", err)
	}
	if !strings.HasPrefix(m.ID, "manual_") || len(m.ID) != len("manual_")+12 {
		t.Fatalf("unexpected manual id %q", m.ID)
	}
	if m.Platform != constant.PlatformGoogleMeet || m.Source != constant.SourceManual || m.BotName != "Note Taker" {
		t.Fatalf("unexpected meeting %+v", m)
	}
	if got := m.EndTime.Sub(m.StartTime); got != 4*time.Hour {
		t.Fatalf("manual duration = %s", got)
	}
	waitFor(t, func() bool { return f.joiner.joinCount() == 1 }, "manual meeting joined")

	status := bot.Status()
	if !status.Running || len(status.ActiveSessions) != 1 || status.ActiveSessions[0].MeetingId != m.ID {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusReportsSessionRecorderAndTracker(t *testing.T) {
	bot, f := newTestBot(t, nil)
	ctx := context.Background()
	bot.Start(ctx)

	m, err := bot.ManualJoin(ctx, "", "https://zoom.us/j/77")
	if err != nil {
		t.Fatalf("manual join: %v", err)
	}
	waitFor(t, func() bool {
		sessions := bot.Status().ActiveSessions
		return len(sessions) == 1 && sessions[0].RecordingState != "" && sessions[0].Speaking != nil
	}, "recorder and tracker attached")

	status := bot.Status()
	if !status.SchedulerRunning {
		t.Fatalf("scheduler not reported running: %+v", status)
	}
	entry := status.ActiveSessions[0]
	if entry.MeetingId != m.ID || entry.RecordingState != string(constant.RecordingStateRecording) {
		t.Fatalf("unexpected session entry %+v", entry)
	}
	if !entry.Speaking.Running || entry.Speaking.Participants != 2 || entry.Speaking.Segments != 1 {
		t.Fatalf("tracker stats not reported: %+v", *entry.Speaking)
	}
	if f.joiner.joinCount() != 1 {
		t.Fatalf("joins = %d", f.joiner.joinCount())
	}

	if err := bot.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if status := bot.Status(); status.Running || status.SchedulerRunning {
		t.Fatalf("stopped bot reported running: %+v", status)
	}
}

func TestQueuePollerDropsRepeatedInvite(t *testing.T) {
	p := NewQueuePoller()
	start := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	first := entities.NewMeeting("Review", "https://zoom.us/j/9", start, start.Add(time.Hour), constant.SourceGmail, "g-1")
	again := entities.NewMeeting("Review (fwd)", "https://zoom.us/j/9", start, start.Add(time.Hour), constant.SourceOutlook, "o-1")
	later := entities.NewMeeting("Review", "https://zoom.us/j/9", start.Add(24*time.Hour), start.Add(25*time.Hour), constant.SourceGmail, "g-2")

	if !p.Offer(first) {
		t.Fatalf("first invite rejected")
	}
	if p.Offer(again) {
		t.Fatalf("same occurrence from another source was buffered twice")
	}
	if !p.Offer(later) {
		t.Fatalf("next occurrence rejected")
	}
	got, _ := p.Poll(context.Background())
	if len(got) != 2 || got[0] != first || got[1] != later {
		t.Fatalf("unexpected buffered meetings %+v", got)
	}
	if !p.Offer(again) {
		t.Fatalf("invite rejected after the buffer was drained")
	}
}

func TestManualJoinRejectsUnsupportedURL(t *testing.T) {
	bot, f := newTestBot(t, nil)
	ctx := context.Background()
	bot.Start(ctx)

	if _, err := bot.ManualJoin(ctx, "", "https://example.com/room/1"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("err = %v, want ErrUnsupportedPlatform", err)
	}
	if f.manager.ActiveCount() != 0 {
		t.Fatalf("session created for unsupported url")
	}
}

func TestManualJoinRequiresRunningBot(t *testing.T) {
	bot, _ := newTestBot(t, nil)
	if _, err := bot.ManualJoin(context.Background(), "", "https://zoom.us/j/1"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestStartPollsImmediately(t *testing.T) {
	poller := NewQueuePoller()
	start := time.Now().UTC().Add(time.Hour)
	poller.Offer(entities.NewMeeting("Later", "https://zoom.us/j/later", start, start.Add(time.Hour), constant.SourceQueue, ""))

	bot, _ := newTestBot(t, poller)
	bot.Start(context.Background())

	status := bot.Status()
	if status.ScheduledCount != 1 {
		t.Fatalf("scheduled = %d, want 1", status.ScheduledCount)
	}
	if len(status.UpcomingJobs) < 2 {
		t.Fatalf("expected join and end jobs, got %+v", status.UpcomingJobs)
	}
	if left, _ := poller.Poll(context.Background()); len(left) != 0 {
		t.Fatalf("poller not drained: %d left", len(left))
	}
}

func TestMeetingFromInvite(t *testing.T) {
	start := time.Date(2026, 6, 1, 15, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	msg := dto.MeetingInviteMessage{
		EventId:   "evt-7",
		Title:     " Design review ",
		URL:       "https://teams.microsoft.com/l/meetup-join/xyz",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Source:    "outlook",
		Organizer: "pm@example.com",
	}
	m, err := MeetingFromInvite(msg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if m.Title != "Design review" || m.Source != constant.SourceOutlook || m.Platform != constant.PlatformTeams {
		t.Fatalf("unexpected meeting %+v", m)
	}
	if m.StartTime.Location() != time.UTC || !m.StartTime.Equal(start) {
		t.Fatalf("start not normalized to UTC: %s", m.StartTime)
	}

	msg.Source = "carrier-pigeon"
	if m, _ := MeetingFromInvite(msg); m.Source != constant.SourceQueue {
		t.Fatalf("unknown source should map to queue, got %s", m.Source)
	}

	bad := msg
	bad.URL = "https://example.com/x"
	if _, err := MeetingFromInvite(bad); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("err = %v", err)
	}
	bad = msg
	bad.EndTime = bad.StartTime
	if _, err := MeetingFromInvite(bad); err == nil {
		t.Fatalf("expected error for empty time range")
	}
}
