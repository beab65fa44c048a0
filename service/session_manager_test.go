package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/entities"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeHandle struct {
	name      string
	log       *callLog
	inMeeting atomic.Bool
	removed   atomic.Bool
	closed    atomic.Int32
	// inMeetingFn overrides inMeeting when set.
	inMeetingFn func() bool
}

func newFakeHandle(name string, log *callLog) *fakeHandle {
	h := &fakeHandle{name: name, log: log}
	h.inMeeting.Store(true)
	return h
}

func (h *fakeHandle) InMeeting(ctx context.Context) (bool, error) {
	if h.inMeetingFn != nil {
		return h.inMeetingFn(), nil
	}
	return h.inMeeting.Load(), nil
}

func (h *fakeHandle) Removed(ctx context.Context) (bool, error) { return h.removed.Load(), nil }

func (h *fakeHandle) ActiveSpeakers(ctx context.Context) ([]string, error) { return nil, nil }

func (h *fakeHandle) Participants(ctx context.Context) ([]entities.ParticipantSnapshot, error) {
	return nil, nil
}

func (h *fakeHandle) VideoStartedAt() time.Time { return time.Time{} }

func (h *fakeHandle) StartInPageAudio(ctx context.Context, sink AudioChunkSink) (time.Time, error) {
	return time.Time{}, errors.New("not supported")
}

func (h *fakeHandle) StopInPageAudio(ctx context.Context) error { return nil }

func (h *fakeHandle) StopVideo(ctx context.Context) (string, error) { return "", nil }

func (h *fakeHandle) Close(ctx context.Context) error {
	h.closed.Add(1)
	h.log.add("close:" + h.name)
	return nil
}

type fakeJoiner struct {
	log   *callLog
	mu    sync.Mutex
	joins int
	// block makes Join wait for its context.
	block   bool
	err     error
	handles []*fakeHandle
	// configure is applied to every new handle.
	configure func(*fakeHandle)
}

func (j *fakeJoiner) Join(ctx context.Context, m *entities.Meeting) (MeetingHandle, error) {
	j.mu.Lock()
	j.joins++
	n := j.joins
	block, err := j.block, j.err
	j.mu.Unlock()

	j.log.add("join")
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	h := newFakeHandle(fmt.Sprintf("h%d", n), j.log)
	if j.configure != nil {
		j.configure(h)
	}
	j.mu.Lock()
	j.handles = append(j.handles, h)
	j.mu.Unlock()
	return h, nil
}

func (j *fakeJoiner) joinCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.joins
}

type fakeRecorder struct {
	log  *callLog
	name string
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	r.log.add("record:start")
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (*entities.RecordingInfo, error) {
	r.log.add("record:stop")
	return &entities.RecordingInfo{RecordingID: r.name, State: constant.RecordingStateStopped}, nil
}

func (r *fakeRecorder) State() constant.RecordingState { return constant.RecordingStateRecording }

type fakeTracker struct{ log *callLog }

func (t *fakeTracker) Start(ctx context.Context) { t.log.add("track:start") }

func (t *fakeTracker) Stop() entities.SpeakingExport {
	t.log.add("track:stop")
	return entities.SpeakingExport{}
}

func (t *fakeTracker) Stats() entities.TrackerStats {
	return entities.TrackerStats{Running: true, Participants: 2, Segments: 1}
}

type fakeSessionExporter struct {
	log       *callLog
	mu        sync.Mutex
	artifacts []SessionArtifacts
}

func (e *fakeSessionExporter) Export(ctx context.Context, a SessionArtifacts) error {
	e.log.add("export")
	e.mu.Lock()
	e.artifacts = append(e.artifacts, a)
	e.mu.Unlock()
	return nil
}

func (e *fakeSessionExporter) exported() []SessionArtifacts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SessionArtifacts(nil), e.artifacts...)
}

type managerFixture struct {
	log      *callLog
	joiner   *fakeJoiner
	exporter *fakeSessionExporter
	manager  *SessionManager
}

func testBotConfig() config.Bot {
	return config.Bot{
		MaxConcurrent:       5,
		MaxJoinAfterStart:   10 * time.Minute,
		LobbyTimeout:        time.Second,
		MonitorInterval:     time.Hour,
		MonitorRecheckDelay: 10 * time.Millisecond,
		RejoinBackoff:       10 * time.Millisecond,
		CleanupTimeout:      5 * time.Second,
		MaxRejoinAttempts:   3,
	}
}

func newManagerFixture(t *testing.T, cfg config.Bot) *managerFixture {
	t.Helper()
	log := &callLog{}
	f := &managerFixture{
		log:      log,
		joiner:   &fakeJoiner{log: log},
		exporter: &fakeSessionExporter{log: log},
	}
	var recorders atomic.Int32
	f.manager = NewSessionManager(context.Background(), cfg, f.joiner, f.exporter,
		func(m *entities.Meeting, surface CaptureSurface) MediaRecorder {
			return &fakeRecorder{log: log, name: fmt.Sprintf("rec%d", recorders.Add(1))}
		},
		func(m *entities.Meeting, probe SpeakingProbe) SpeakerTracker {
			return &fakeTracker{log: log}
		},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func liveMeeting(n int) *entities.Meeting {
	now := time.Now().UTC()
	return entities.NewMeeting(fmt.Sprintf("Meeting %d", n), fmt.Sprintf("https://zoom.us/j/%d", n),
		now.Add(-time.Minute), now.Add(time.Hour), constant.SourceCalendarAPI, "")
}

func TestHandleJoinCapsConcurrentSessions(t *testing.T) {
	f := newManagerFixture(t, testBotConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := f.manager.HandleJoin(ctx, liveMeeting(i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := f.manager.HandleJoin(ctx, liveMeeting(5)); !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("sixth join err = %v, want ErrCapacityReached", err)
	}
	if got := f.manager.ActiveCount(); got != 5 {
		t.Fatalf("active = %d, want 5", got)
	}
}

func TestHandleJoinRejectsDuplicates(t *testing.T) {
	f := newManagerFixture(t, testBotConfig())
	ctx := context.Background()
	m := liveMeeting(1)

	if err := f.manager.HandleJoin(ctx, m); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := f.manager.HandleJoin(ctx, m); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("same id err = %v", err)
	}
	other := entities.NewMeeting("Copy", m.URL, m.StartTime, m.EndTime, constant.SourceGmail, "evt")
	if err := f.manager.HandleJoin(ctx, other); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("same url err = %v", err)
	}
	if got := len(f.manager.ActiveSessions()); got != 1 {
		t.Fatalf("expected one session, got %d", got)
	}
}

func TestHandleJoinRejectsOutsideWindow(t *testing.T) {
	f := newManagerFixture(t, testBotConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	late := entities.NewMeeting("Late", "https://zoom.us/j/late", now.Add(-11*time.Minute), now.Add(time.Hour), constant.SourceOutlook, "")
	if err := f.manager.HandleJoin(ctx, late); !errors.Is(err, ErrOutsideJoinWindow) {
		t.Fatalf("late join err = %v", err)
	}
	over := entities.NewMeeting("Over", "https://zoom.us/j/over", now.Add(-2*time.Hour), now.Add(-time.Hour), constant.SourceOutlook, "")
	if err := f.manager.HandleJoin(ctx, over); !errors.Is(err, ErrMeetingEnded) {
		t.Fatalf("ended join err = %v", err)
	}
	if f.joiner.joinCount() != 0 {
		t.Fatalf("join handler invoked for rejected meetings")
	}
}

func TestAdmissionTimeoutReleasesSession(t *testing.T) {
	cfg := testBotConfig()
	cfg.LobbyTimeout = 50 * time.Millisecond
	f := newManagerFixture(t, cfg)
	f.joiner.block = true

	if err := f.manager.HandleJoin(context.Background(), liveMeeting(1)); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return f.manager.ActiveCount() == 0 }, "session released after lobby timeout")
	if len(f.exporter.exported()) != 0 {
		t.Fatalf("nothing should be exported for a session that never joined")
	}
}

func TestHandleEndRunsCleanupInOrder(t *testing.T) {
	f := newManagerFixture(t, testBotConfig())
	ctx := context.Background()
	m := liveMeeting(1)

	if err := f.manager.HandleJoin(ctx, m); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool {
		s := f.manager.ActiveSessions()
		return len(s) == 1 && s[0].Joined
	}, "session joined")

	if err := f.manager.HandleEnd(ctx, m); err != nil {
		t.Fatalf("end: %v", err)
	}
	if f.manager.ActiveCount() != 0 {
		t.Fatalf("session still registered after end")
	}
	want := []string{"join", "record:start", "track:start", "track:stop", "record:stop", "export", "close:h1"}
	got := f.log.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	exported := f.exporter.exported()
	if len(exported) != 1 || len(exported[0].Recordings) != 1 || !exported[0].Session.Meeting.IsCompleted {
		t.Fatalf("unexpected export %+v", exported)
	}

	if err := f.manager.HandleEnd(ctx, m); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
}

func TestMonitorRejoinsAfterTwoNegativeChecks(t *testing.T) {
	cfg := testBotConfig()
	cfg.MonitorInterval = 20 * time.Millisecond
	f := newManagerFixture(t, cfg)
	f.joiner.configure = func(h *fakeHandle) {
		if h.name == "h1" {
			h.inMeeting.Store(false)
		}
	}
	ctx := context.Background()
	m := liveMeeting(1)

	if err := f.manager.HandleJoin(ctx, m); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return f.joiner.joinCount() == 2 }, "rejoin")
	waitFor(t, func() bool {
		s := f.manager.ActiveSessions()
		return len(s) == 1 && s[0].Joined && s[0].RejoinAttempts == 1
	}, "rejoined session")

	if err := f.manager.HandleEnd(ctx, m); err != nil {
		t.Fatalf("end: %v", err)
	}
	exported := f.exporter.exported()
	if len(exported) != 1 {
		t.Fatalf("expected a single export, got %d", len(exported))
	}
	if got := len(exported[0].Recordings); got != 2 {
		t.Fatalf("expected a recording per joined handle, got %d", got)
	}
	if f.joiner.handles[0].closed.Load() != 1 || f.joiner.handles[1].closed.Load() != 1 {
		t.Fatalf("handles not closed exactly once")
	}
}

func TestSingleNegativeCheckDoesNotEndSession(t *testing.T) {
	cfg := testBotConfig()
	cfg.MonitorInterval = 10 * time.Millisecond
	f := newManagerFixture(t, cfg)
	var checks atomic.Int32
	f.joiner.configure = func(h *fakeHandle) {
		h.inMeetingFn = func() bool {
			// every other check is negative
			return checks.Add(1)%2 == 0
		}
	}
	ctx := context.Background()
	m := liveMeeting(1)
	if err := f.manager.HandleJoin(ctx, m); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return checks.Load() >= 10 }, "monitor checks")

	if f.joiner.joinCount() != 1 || f.manager.ActiveCount() != 1 {
		t.Fatalf("session ended on isolated negative checks")
	}
	_ = f.manager.HandleEnd(ctx, m)
}

func TestKickedSessionIsNotRejoined(t *testing.T) {
	cfg := testBotConfig()
	cfg.MonitorInterval = 20 * time.Millisecond
	f := newManagerFixture(t, cfg)
	f.joiner.configure = func(h *fakeHandle) { h.removed.Store(true) }

	if err := f.manager.HandleJoin(context.Background(), liveMeeting(1)); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return len(f.exporter.exported()) == 1 }, "export after kick")
	waitFor(t, func() bool { return f.manager.ActiveCount() == 0 }, "session released")

	if f.joiner.joinCount() != 1 {
		t.Fatalf("kicked session was rejoined")
	}
	if !f.exporter.exported()[0].Session.Meeting.WasKicked {
		t.Fatalf("was_kicked not recorded")
	}
}

func TestRejoinStopsAfterMaxAttempts(t *testing.T) {
	cfg := testBotConfig()
	cfg.MonitorInterval = 10 * time.Millisecond
	cfg.MaxRejoinAttempts = 2
	f := newManagerFixture(t, cfg)
	f.joiner.configure = func(h *fakeHandle) { h.inMeeting.Store(false) }

	if err := f.manager.HandleJoin(context.Background(), liveMeeting(1)); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return f.manager.ActiveCount() == 0 }, "session ends after rejoins")

	if got := f.joiner.joinCount(); got != 3 {
		t.Fatalf("joins = %d, want initial join plus 2 rejoins", got)
	}
	exported := f.exporter.exported()
	if len(exported) != 1 || exported[0].Session.Meeting.RejoinAttempts != 2 {
		t.Fatalf("unexpected export %+v", exported)
	}
}

func TestShutdownCleansUpActiveSessions(t *testing.T) {
	f := newManagerFixture(t, testBotConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := f.manager.HandleJoin(ctx, liveMeeting(i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	waitFor(t, func() bool {
		for _, s := range f.manager.ActiveSessions() {
			if !s.Joined {
				return false
			}
		}
		return true
	}, "all sessions joined")

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.manager.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if f.manager.ActiveCount() != 0 || len(f.exporter.exported()) != 3 {
		t.Fatalf("sessions not cleaned up on shutdown")
	}
	if err := f.manager.HandleJoin(ctx, liveMeeting(9)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("join after shutdown err = %v", err)
	}
}
