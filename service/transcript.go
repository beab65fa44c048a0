package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"meeting-bot/entities"
)

var nonParticipantSpeakers = map[string]bool{"system": true, "unknown": true, "": true}

// TranscriptBuffer collects caption lines for one session.
type TranscriptBuffer struct {
	mu           sync.Mutex
	lines        []entities.TranscriptLine
	participants map[string]struct{}
}

func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{participants: map[string]struct{}{}}
}

func (b *TranscriptBuffer) Append(line entities.TranscriptLine) {
	line.Speaker = strings.TrimSpace(line.Speaker)
	line.Text = strings.TrimSpace(line.Text)
	if line.Text == "" {
		return
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if !nonParticipantSpeakers[strings.ToLower(line.Speaker)] {
		b.participants[line.Speaker] = struct{}{}
	}
}

func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Participants returns the speakers seen so far, sorted.
func (b *TranscriptBuffer) Participants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.participants))
	for name := range b.participants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Export builds the transcript bundle for a finished session.
func (b *TranscriptBuffer) Export(sess entities.MeetingSession, now time.Time) entities.TranscriptExport {
	participants := b.Participants()

	b.mu.Lock()
	lines := append([]entities.TranscriptLine{}, b.lines...)
	b.mu.Unlock()

	meta := entities.TranscriptMetadata{
		MeetingID:        sess.Meeting.ID,
		MeetingURL:       sess.Meeting.URL,
		Platform:         sess.Meeting.Platform.String(),
		Title:            sess.Meeting.Title,
		ParticipantNames: participants,
	}
	start := sess.StartedAt
	meta.StartTime = &start
	if sess.EndedAt != nil {
		end := *sess.EndedAt
		meta.EndTime = &end
		meta.DurationSeconds = end.Sub(start).Seconds()
	}
	return entities.TranscriptExport{
		Metadata:        meta,
		Transcription:   lines,
		ExportTimestamp: now,
	}
}

func (b *TranscriptBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
	b.participants = map[string]struct{}{}
}
