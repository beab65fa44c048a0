package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/dto"
	"meeting-bot/entities"
)

const captionPollInterval = 2 * time.Second

var errNoHandle = errors.New("session has no meeting handle")

type RecorderFactory func(meeting *entities.Meeting, surface CaptureSurface) MediaRecorder

type TrackerFactory func(meeting *entities.Meeting, probe SpeakingProbe) SpeakerTracker

// SessionArtifacts is everything a finished session hands to the exporter.
type SessionArtifacts struct {
	Session    entities.MeetingSession
	Transcript *TranscriptBuffer
	Speaking   *entities.SpeakingExport
	Recordings []*entities.RecordingInfo
}

type SessionExporter interface {
	Export(ctx context.Context, artifacts SessionArtifacts) error
}

type endReason int

const (
	endRequested endReason = iota
	endShutdown
	endKicked
	endLeft
)

func (r endReason) String() string {
	switch r {
	case endRequested:
		return "end_requested"
	case endShutdown:
		return "shutdown"
	case endKicked:
		return "kicked"
	default:
		return "left"
	}
}

type session struct {
	id        string
	startedAt time.Time
	done      chan struct{}

	mu           sync.Mutex
	meeting      entities.Meeting
	handle       MeetingHandle
	recorder     MediaRecorder
	recordings   []*entities.RecordingInfo
	tracker      SpeakerTracker
	transcript   *TranscriptBuffer
	endRequested bool
	cancelPhase  context.CancelFunc
}

func (s *session) currentHandle() MeetingHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// enterPhase records the cancel func of a blocking phase so an end request
// can interrupt it. It reports false when the end was already requested.
func (s *session) enterPhase(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endRequested {
		return false
	}
	s.cancelPhase = cancel
	return true
}

func (s *session) leavePhase() {
	s.mu.Lock()
	s.cancelPhase = nil
	s.mu.Unlock()
}

// requestEnd claims the end of the session. Only the first caller gets true.
func (s *session) requestEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endRequested {
		return false
	}
	s.endRequested = true
	if s.cancelPhase != nil {
		s.cancelPhase()
	}
	return true
}

func (s *session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endRequested
}

// sessionProbe lets the speaking tracker follow the session across rejoins.
type sessionProbe struct{ s *session }

func (p sessionProbe) ActiveSpeakers(ctx context.Context) ([]string, error) {
	h := p.s.currentHandle()
	if h == nil {
		return nil, errNoHandle
	}
	return h.ActiveSpeakers(ctx)
}

func (p sessionProbe) Participants(ctx context.Context) ([]entities.ParticipantSnapshot, error) {
	h := p.s.currentHandle()
	if h == nil {
		return nil, errNoHandle
	}
	return h.Participants(ctx)
}

// SessionManager admits meetings, drives each one from join to cleanup in its
// own goroutine and caps how many run at once.
type SessionManager struct {
	cfg         config.Bot
	joiner      JoinHandler
	exporter    SessionExporter
	newRecorder RecorderFactory
	newTracker  TrackerFactory
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	byURL    map[string]string
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionManager(ctx context.Context, cfg config.Bot, joiner JoinHandler, exporter SessionExporter, newRecorder RecorderFactory, newTracker TrackerFactory) *SessionManager {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionManager{
		cfg:         cfg,
		joiner:      joiner,
		exporter:    exporter,
		newRecorder: newRecorder,
		newTracker:  newTracker,
		now:         func() time.Time { return time.Now().UTC() },
		sessions:    map[string]*session{},
		byURL:       map[string]string{},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// HandleJoin admits a meeting and starts its session in the background.
// Rejections are returned as sentinel errors and are never retried.
func (m *SessionManager) HandleJoin(ctx context.Context, meeting *entities.Meeting) error {
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", meeting.ID).Str("title", meeting.Title).Logger()
	now := m.now()

	if meeting.HasEnded(now) {
		logger.Warn().Time("end", meeting.EndTime).Msg("not joining, meeting already ended")
		return ErrMeetingEnded
	}
	if late := now.Sub(meeting.StartTime); late > m.cfg.MaxJoinAfterStart {
		logger.Warn().Dur("late", late).Dur("window", m.cfg.MaxJoinAfterStart).Msg("not joining, outside join window")
		return ErrOutsideJoinWindow
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if _, ok := m.sessions[meeting.ID]; ok {
		m.mu.Unlock()
		logger.Warn().Msg("not joining, meeting already active")
		return ErrAlreadyActive
	}
	if _, ok := m.byURL[meeting.URL]; ok {
		m.mu.Unlock()
		logger.Warn().Str("url", meeting.URL).Msg("not joining, meeting url already active")
		return ErrAlreadyActive
	}
	if len(m.sessions) >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		logger.Warn().Int("max", m.cfg.MaxConcurrent).Msg("not joining, maximum concurrent meetings reached")
		return ErrCapacityReached
	}

	s := &session{
		id:         uuid.NewString(),
		startedAt:  now,
		done:       make(chan struct{}),
		meeting:    *meeting,
		transcript: NewTranscriptBuffer(),
	}
	if m.cfg.MaxRejoinAttempts > 0 {
		s.meeting.MaxRejoinAttempts = m.cfg.MaxRejoinAttempts
	}
	m.sessions[meeting.ID] = s
	m.byURL[meeting.URL] = meeting.ID
	active := len(m.sessions)
	m.wg.Add(1)
	m.mu.Unlock()

	logger.Info().Str("session_id", s.id).Int("active", active).Msg("session admitted")
	go m.run(s)
	return nil
}

// HandleEnd requests the end of a meeting's session and waits for its
// cleanup. A meeting without an active session is ignored.
func (m *SessionManager) HandleEnd(ctx context.Context, meeting *entities.Meeting) error {
	m.mu.Lock()
	s, ok := m.sessions[meeting.ID]
	if !ok {
		if id, found := m.byURL[meeting.URL]; found {
			s, ok = m.sessions[id]
		}
	}
	m.mu.Unlock()

	logger := zerolog.Ctx(ctx).With().Str("meeting_id", meeting.ID).Logger()
	if !ok {
		logger.Debug().Msg("end requested for meeting without active session")
		return nil
	}
	if !s.requestEnd() {
		logger.Debug().Msg("session end already claimed")
	} else {
		logger.Info().Str("session_id", s.id).Msg("ending session")
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every session and waits for their cleanup or ctx.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) ActiveSessions() []dto.ActiveSession {
	m.mu.Lock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]dto.ActiveSession, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		entry := dto.ActiveSession{
			MeetingId:      s.meeting.ID,
			SessionId:      s.id,
			Title:          s.meeting.Title,
			URL:            s.meeting.URL,
			Platform:       s.meeting.Platform.String(),
			StartedAt:      s.startedAt,
			Joined:         s.meeting.IsJoined,
			RejoinAttempts: s.meeting.RejoinAttempts,
		}
		rec, tracker := s.recorder, s.tracker
		s.mu.Unlock()

		// recorder and tracker take their own locks and may call back into the session
		if rec != nil {
			entry.RecordingState = string(rec.State())
		}
		if tracker != nil {
			stats := tracker.Stats()
			entry.Speaking = &stats
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

func (m *SessionManager) run(s *session) {
	defer m.wg.Done()
	logger := zerolog.Ctx(m.ctx).With().Str("meeting_id", s.meeting.ID).Str("session_id", s.id).Logger()
	ctx := logger.WithContext(m.ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("session panicked")
			m.cleanup(ctx, s)
		}
	}()

	handle, err := m.join(ctx, s)
	if err != nil {
		logger.Error().Err(err).Msg("failed to join meeting")
		m.release(s)
		return
	}
	m.attach(ctx, s, handle)

	if m.newTracker != nil {
		tracker := m.newTracker(&s.meeting, sessionProbe{s})
		s.mu.Lock()
		s.tracker = tracker
		s.mu.Unlock()
		tracker.Start(ctx)
	}
	captionsCtx, stopCaptions := context.WithCancel(ctx)
	captionsDone := make(chan struct{})
	go m.pollCaptions(captionsCtx, s, captionsDone)

	for {
		reason := m.monitor(ctx, s)
		logger.Info().Str("reason", reason.String()).Msg("session monitor stopped")
		if reason == endKicked {
			s.mu.Lock()
			s.meeting.WasKicked = true
			s.mu.Unlock()
		}
		if !m.shouldRejoin(s, reason) {
			break
		}
		if !m.rejoin(ctx, s) {
			break
		}
	}

	stopCaptions()
	<-captionsDone
	m.cleanup(ctx, s)
}

func (m *SessionManager) join(ctx context.Context, s *session) (MeetingHandle, error) {
	jctx, cancel := context.WithTimeout(ctx, m.cfg.LobbyTimeout)
	defer cancel()
	if !s.enterPhase(cancel) {
		return nil, ErrMeetingEnded
	}
	defer s.leavePhase()

	s.mu.Lock()
	meeting := s.meeting
	s.mu.Unlock()

	zerolog.Ctx(ctx).Info().Str("platform", meeting.Platform.String()).Dur("timeout", m.cfg.LobbyTimeout).Msg("joining meeting")
	handle, err := m.joiner.Join(jctx, &meeting)
	if err != nil {
		if errors.Is(jctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Join(err, context.DeadlineExceeded)
		}
		return nil, err
	}
	return handle, nil
}

// attach installs a freshly joined handle and starts recording on it.
func (m *SessionManager) attach(ctx context.Context, s *session, handle MeetingHandle) {
	s.mu.Lock()
	s.handle = handle
	s.meeting.IsJoined = true
	meeting := s.meeting
	s.mu.Unlock()
	zerolog.Ctx(ctx).Info().Msg("joined meeting")

	if m.newRecorder == nil {
		return
	}
	rec := m.newRecorder(&meeting, handle)
	if err := rec.Start(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start recording")
		return
	}
	s.mu.Lock()
	s.recorder = rec
	s.mu.Unlock()
}

func (m *SessionManager) monitor(ctx context.Context, s *session) endReason {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.enterPhase(cancel) {
		return endRequested
	}
	defer s.leavePhase()

	stopped := func() endReason {
		if s.ended() {
			return endRequested
		}
		return endShutdown
	}

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mctx.Done():
			return stopped()
		case <-ticker.C:
		}

		handle := s.currentHandle()
		if removed, err := handle.Removed(mctx); err == nil && removed {
			return endKicked
		}
		if stillInMeeting(mctx, handle) {
			continue
		}

		zerolog.Ctx(ctx).Debug().Msg("meeting check negative, rechecking")
		select {
		case <-mctx.Done():
			return stopped()
		case <-time.After(m.cfg.MonitorRecheckDelay):
		}
		if stillInMeeting(mctx, handle) {
			continue
		}
		if mctx.Err() != nil {
			return stopped()
		}
		return endLeft
	}
}

func stillInMeeting(ctx context.Context, handle MeetingHandle) bool {
	in, err := handle.InMeeting(ctx)
	return err == nil && in
}

func (m *SessionManager) shouldRejoin(s *session, reason endReason) bool {
	if reason != endLeft {
		return false
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	now := m.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := zerolog.Ctx(m.ctx).With().Str("meeting_id", s.meeting.ID).Logger()
	switch {
	case closed || s.endRequested:
		return false
	case s.meeting.RejoinAttempts >= s.meeting.MaxRejoinAttempts:
		logger.Info().Int("attempts", s.meeting.RejoinAttempts).Msg("rejoin attempts exhausted")
		return false
	case s.meeting.HasEnded(now):
		return false
	case now.Sub(s.meeting.StartTime) > m.cfg.MaxJoinAfterStart:
		logger.Info().Msg("outside join window, not rejoining")
		return false
	}
	s.meeting.RejoinAttempts++
	s.meeting.IsJoined = false
	return true
}

// rejoin finalizes the recording of the lost handle, waits the backoff and
// joins again. It reports false when the session should be cleaned up.
func (m *SessionManager) rejoin(ctx context.Context, s *session) bool {
	s.mu.Lock()
	attempt := s.meeting.RejoinAttempts
	old := s.handle
	s.mu.Unlock()
	logger := zerolog.Ctx(ctx)
	logger.Info().Int("attempt", attempt).Dur("backoff", m.cfg.RejoinBackoff).Msg("rejoining meeting")

	m.stopRecorder(ctx, s)
	if old != nil {
		if err := old.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to close lost meeting handle")
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	if !s.enterPhase(cancel) {
		cancel()
		return false
	}
	select {
	case <-wctx.Done():
	case <-time.After(m.cfg.RejoinBackoff):
	}
	s.leavePhase()
	cancel()
	if ctx.Err() != nil || s.ended() {
		return false
	}

	handle, err := m.join(ctx, s)
	if err != nil {
		logger.Error().Err(err).Int("attempt", attempt).Msg("rejoin failed")
		s.mu.Lock()
		s.handle = nil
		s.mu.Unlock()
		return false
	}
	m.attach(ctx, s, handle)
	return true
}

func (m *SessionManager) stopRecorder(ctx context.Context, s *session) {
	s.mu.Lock()
	rec := s.recorder
	s.recorder = nil
	s.mu.Unlock()
	if rec == nil {
		return
	}
	info, err := rec.Stop(context.WithoutCancel(ctx))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to stop recording")
	}
	if info != nil {
		s.mu.Lock()
		s.recordings = append(s.recordings, info)
		s.mu.Unlock()
	}
}

func (m *SessionManager) pollCaptions(ctx context.Context, s *session, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(captionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		source, ok := s.currentHandle().(CaptionSource)
		if !ok {
			continue
		}
		lines, err := source.Captions(ctx)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to read captions")
			continue
		}
		for _, l := range lines {
			s.transcript.Append(l)
		}
	}
}

// cleanup stops the tracker and the recorder, exports, closes the handle and
// deregisters the session, in that order.
func (m *SessionManager) cleanup(ctx context.Context, s *session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CleanupTimeout)
	defer cancel()
	logger := zerolog.Ctx(ctx)

	var speaking *entities.SpeakingExport
	if s.tracker != nil {
		export := s.tracker.Stop()
		speaking = &export
	}
	m.stopRecorder(ctx, s)

	endedAt := m.now()
	s.mu.Lock()
	s.meeting.IsCompleted = true
	artifacts := SessionArtifacts{
		Session: entities.MeetingSession{
			SessionID:      s.id,
			Meeting:        s.meeting,
			StartedAt:      s.startedAt,
			EndedAt:        &endedAt,
			IsRecording:    len(s.recordings) > 0,
			IsTranscribing: s.transcript.Len() > 0,
		},
		Transcript: s.transcript,
		Speaking:   speaking,
		Recordings: append([]*entities.RecordingInfo(nil), s.recordings...),
	}
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	if m.exporter != nil {
		if err := m.exporter.Export(ctx, artifacts); err != nil {
			logger.Error().Err(err).Msg("failed to export session")
		}
	}
	if handle != nil {
		if err := handle.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to close meeting handle")
		}
	}
	m.release(s)
	logger.Info().Dur("duration", endedAt.Sub(s.startedAt)).Msg("session finished")
}

func (m *SessionManager) release(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.meeting.ID] != s {
		return
	}
	delete(m.sessions, s.meeting.ID)
	if m.byURL[s.meeting.URL] == s.meeting.ID {
		delete(m.byURL, s.meeting.URL)
	}
	close(s.done)
}
