package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
)

// QueuePoller buffers meetings delivered by the invite consumer until the
// scheduler's next poll picks them up.
type QueuePoller struct {
	mu      sync.Mutex
	pending []*entities.Meeting
}

func NewQueuePoller() *QueuePoller {
	return &QueuePoller{}
}

// Offer buffers meeting unless an equal meeting is already waiting. It
// reports whether the meeting was buffered.
func (p *QueuePoller) Offer(meeting *entities.Meeting) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.pending {
		if m.Equal(meeting) {
			return false
		}
	}
	p.pending = append(p.pending, meeting)
	return true
}

func (p *QueuePoller) Poll(ctx context.Context) ([]*entities.Meeting, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}

// MeetingFromInvite validates an invite message and converts it to a Meeting.
func MeetingFromInvite(msg dto.MeetingInviteMessage) (*entities.Meeting, error) {
	url := strings.TrimSpace(msg.URL)
	if url == "" {
		return nil, fmt.Errorf("invite %q has no meeting url", msg.EventId)
	}
	if entities.DetectPlatform(url) == constant.PlatformUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, url)
	}
	if msg.StartTime.IsZero() || !msg.EndTime.After(msg.StartTime) {
		return nil, fmt.Errorf("invite %q has an invalid time range", msg.EventId)
	}

	source := constant.Source(msg.Source)
	switch source {
	case constant.SourceGmail, constant.SourceOutlook, constant.SourceCalendarAPI:
	default:
		source = constant.SourceQueue
	}
	title := strings.TrimSpace(msg.Title)
	if title == "" {
		title = "Untitled meeting"
	}

	m := entities.NewMeeting(title, url, msg.StartTime, msg.EndTime, source, msg.EventId)
	m.Organizer = msg.Organizer
	m.Description = msg.Description
	return m, nil
}
