package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
)

// Bot ties the scheduler to the session manager and answers status and
// manual join requests.
type Bot struct {
	cfg       config.Bot
	scheduler *Scheduler
	sessions  *SessionManager
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

func NewBot(cfg config.Bot, scheduler *Scheduler, sessions *SessionManager) *Bot {
	return &Bot{
		cfg:       cfg,
		scheduler: scheduler,
		sessions:  sessions,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the scheduler and performs one poll right away.
func (b *Bot) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.scheduler.Start(ctx)
	b.scheduler.TriggerPoll(ctx)
	zerolog.Ctx(ctx).Info().Int("max_concurrent", b.cfg.MaxConcurrent).Msg("meeting bot started")
}

// Stop halts scheduling and waits for active sessions to finish cleanup.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	b.scheduler.Stop()
	err := b.sessions.Shutdown(ctx)
	zerolog.Ctx(ctx).Info().Msg("meeting bot stopped")
	return err
}

func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) Status() dto.StatusSnapshot {
	return dto.StatusSnapshot{
		Running:          b.Running(),
		SchedulerRunning: b.scheduler.Running(),
		ScheduledCount:   b.scheduler.ScheduledCount(),
		ActiveSessions:   b.sessions.ActiveSessions(),
		UpcomingJobs:     b.scheduler.UpcomingJobs(),
	}
}

// ManualJoin joins a meeting right away, bypassing the scheduler. The meeting
// is assumed to run for at most the configured manual duration.
func (b *Bot) ManualJoin(ctx context.Context, displayName, meetingURL string) (*entities.Meeting, error) {
	if !b.Running() {
		return nil, ErrNotRunning
	}
	meetingURL = strings.TrimSpace(meetingURL)
	platform := entities.DetectPlatform(meetingURL)
	if platform == constant.PlatformUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, meetingURL)
	}

	now := b.now()
	m := &entities.Meeting{
		ID:                "manual_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Title:             "Manual join",
		URL:               meetingURL,
		StartTime:         now,
		EndTime:           now.Add(b.cfg.ManualMaxDuration),
		Platform:          platform,
		Source:            constant.SourceManual,
		BotName:           strings.TrimSpace(displayName),
		MaxRejoinAttempts: entities.DefaultMaxRejoinAttempts,
	}
	zerolog.Ctx(ctx).Info().Str("meeting_id", m.ID).Str("platform", platform.String()).Msg("manual join requested")
	if err := b.sessions.HandleJoin(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
