package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
)

const pollJobID = "poll_meetings"

// MeetingEvents receives the join and end triggers fired by the Scheduler.
type MeetingEvents interface {
	HandleJoin(ctx context.Context, meeting *entities.Meeting) error
	HandleEnd(ctx context.Context, meeting *entities.Meeting) error
}

type scheduledJob struct {
	id      string
	kind    constant.JobKind
	meeting *entities.Meeting
	runAt   time.Time
	grace   time.Duration
	timer   *time.Timer
}

// Scheduler owns the join and end jobs of every known meeting. A meeting is
// tracked by id and by URL so the same meeting reported twice is only
// scheduled once.
type Scheduler struct {
	cfg    config.Scheduler
	poller Poller
	events MeetingEvents
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	jobs     map[string]*scheduledJob
	meetings map[string]*entities.Meeting
	urls     map[string]string
	nextPoll time.Time
	wg       sync.WaitGroup

	pollMu sync.Mutex
}

func NewScheduler(cfg config.Scheduler, poller Poller, events MeetingEvents) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		poller:   poller,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      context.Background(),
		jobs:     map[string]*scheduledJob{},
		meetings: map[string]*entities.Meeting{},
		urls:     map[string]string{},
	}
}

func joinJobID(meetingID string) string { return "join_" + meetingID }
func endJobID(meetingID string) string  { return "end_" + meetingID }

// Schedule registers the join and end jobs for a meeting. It returns false
// when the meeting is already known by id or URL, has ended, or would be
// joined after it ends.
func (s *Scheduler) Schedule(ctx context.Context, meeting *entities.Meeting) bool {
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", meeting.ID).Str("title", meeting.Title).Logger()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		logger.Debug().Msg("meeting already scheduled")
		return false
	}
	if _, ok := s.urls[meeting.URL]; ok {
		logger.Debug().Str("url", meeting.URL).Msg("meeting url already scheduled")
		return false
	}
	if meeting.EndTime.IsZero() || meeting.EndTime.Before(meeting.StartTime) {
		logger.Warn().Time("start", meeting.StartTime).Time("end", meeting.EndTime).Msg("meeting has no valid end time")
		return false
	}
	if meeting.HasEnded(now) {
		logger.Info().Time("end", meeting.EndTime).Msg("meeting already ended, not scheduling")
		return false
	}

	joinAt := meeting.StartTime.Add(-s.cfg.JoinBeforeStart)
	if joinAt.Before(now) {
		joinAt = now.Add(s.cfg.ImmediateJoinDelay)
		logger.Info().Bool("in_progress", meeting.InProgress(now)).Time("join_at", joinAt).Msg("join time passed, joining shortly")
	}
	if joinAt.After(meeting.EndTime) {
		logger.Info().Time("join_at", joinAt).Time("end", meeting.EndTime).Msg("meeting ends before it could be joined")
		return false
	}

	m := *meeting
	m.IsScheduled = true
	s.meetings[m.ID] = &m
	s.urls[m.URL] = m.ID

	join := &scheduledJob{id: joinJobID(m.ID), kind: constant.JobKindJoin, meeting: &m, runAt: joinAt, grace: s.cfg.JoinGrace}
	end := &scheduledJob{id: endJobID(m.ID), kind: constant.JobKindEnd, meeting: &m, runAt: m.EndTime, grace: s.cfg.EndGrace}
	s.jobs[join.id] = join
	s.jobs[end.id] = end
	if s.running {
		s.arm(join)
		s.arm(end)
	}

	logger.Info().Time("join_at", joinAt).Time("end_at", m.EndTime).Str("platform", m.Platform.String()).Msg("meeting scheduled")
	return true
}

// Cancel removes both jobs of a meeting. It returns false when the meeting is not scheduled.
func (s *Scheduler) Cancel(meetingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[meetingID]
	if !ok {
		return false
	}
	for _, id := range []string{joinJobID(meetingID), endJobID(meetingID)} {
		if j, ok := s.jobs[id]; ok {
			s.disarm(j)
			delete(s.jobs, id)
		}
	}
	delete(s.meetings, meetingID)
	if s.urls[m.URL] == meetingID {
		delete(s.urls, m.URL)
	}
	return true
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.arm(j)
	}

	if s.poller != nil && s.cfg.PollInterval > 0 {
		s.nextPoll = s.now().Add(s.cfg.PollInterval)
		s.wg.Add(1)
		go s.pollLoop(s.ctx)
	}
	zerolog.Ctx(ctx).Info().Dur("poll_interval", s.cfg.PollInterval).Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop releases every timer and waits for in-flight callbacks. Jobs stay
// registered and are re-armed by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, j := range s.jobs {
		s.disarm(j)
	}
	s.cancel()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Wait()
	zerolog.Ctx(ctx).Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduledCount is the number of meetings with pending jobs.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meetings)
}

func (s *Scheduler) UpcomingJobs() []dto.UpcomingJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]dto.UpcomingJob, 0, len(s.jobs)+1)
	for _, j := range s.jobs {
		out = append(out, dto.UpcomingJob{
			ID:      j.id,
			Name:    fmt.Sprintf("%s: %s", j.kind, j.meeting.Title),
			Kind:    string(j.kind),
			NextRun: j.runAt,
		})
	}
	if s.running && !s.nextPoll.IsZero() {
		out = append(out, dto.UpcomingJob{ID: pollJobID, Name: "poll meetings", Kind: string(constant.JobKindPoll), NextRun: s.nextPoll})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].NextRun.Equal(out[k].NextRun) {
			return out[i].ID < out[k].ID
		}
		return out[i].NextRun.Before(out[k].NextRun)
	})
	return out
}

// TriggerPoll runs one poll now. Overlapping polls are skipped.
func (s *Scheduler) TriggerPoll(ctx context.Context) {
	if s.poller == nil {
		return
	}
	if !s.pollMu.TryLock() {
		zerolog.Ctx(ctx).Debug().Msg("poll already running, skipping")
		return
	}
	defer s.pollMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("poll panicked")
		}
	}()

	meetings, err := s.poller.Poll(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to poll meetings")
		return
	}
	scheduled := 0
	for _, m := range meetings {
		if s.Schedule(ctx, m) {
			scheduled++
		}
	}
	zerolog.Ctx(ctx).Debug().Int("found", len(meetings)).Int("scheduled", scheduled).Msg("poll completed")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextPoll = s.now().Add(s.cfg.PollInterval)
			s.mu.Unlock()
			s.TriggerPoll(ctx)
		}
	}
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(j *scheduledJob) {
	if j.timer != nil {
		return
	}
	s.wg.Add(1)
	j.timer = time.AfterFunc(j.runAt.Sub(s.now()), func() { s.fire(j) })
}

// disarm must be called with s.mu held.
func (s *Scheduler) disarm(j *scheduledJob) {
	if j.timer == nil {
		return
	}
	if j.timer.Stop() {
		s.wg.Done()
	}
	j.timer = nil
}

func (s *Scheduler) fire(j *scheduledJob) {
	defer s.wg.Done()

	s.mu.Lock()
	if s.jobs[j.id] != j || !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, j.id)
	j.timer = nil
	ctx := s.ctx
	meeting := *j.meeting
	s.mu.Unlock()

	logger := zerolog.Ctx(ctx).With().Str("job_id", j.id).Str("meeting_id", meeting.ID).Logger()
	late := s.now().Sub(j.runAt)
	switch {
	case late > j.grace:
		logger.Warn().Dur("late", late).Dur("grace", j.grace).Msg("job missed its grace window, running anyway")
	case late > s.cfg.DelayWarning:
		logger.Warn().Dur("late", late).Msg("job delayed")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("job panicked")
		}
		if j.kind == constant.JobKindEnd {
			s.forget(meeting.ID)
		}
	}()

	var err error
	switch j.kind {
	case constant.JobKindJoin:
		logger.Info().Msg("join job fired")
		err = s.events.HandleJoin(ctx, &meeting)
	case constant.JobKindEnd:
		logger.Info().Msg("end job fired")
		err = s.events.HandleEnd(ctx, &meeting)
	}
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(j.kind)).Msg("job callback returned error")
	}
}

func (s *Scheduler) forget(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return
	}
	if j, ok := s.jobs[joinJobID(meetingID)]; ok {
		s.disarm(j)
		delete(s.jobs, j.id)
	}
	delete(s.meetings, meetingID)
	if s.urls[m.URL] == meetingID {
		delete(s.urls, m.URL)
	}
}
