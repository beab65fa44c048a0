package service

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/entities"
)

const (
	trackerVersion     = "2.0"
	minSegmentDuration = 0.3
	participantPrefix  = "video-tile-"
)

var displayNameSuffixes = []string{"(You)", "(Guest)", "(Organizer)", "(Presenter)"}

// Raw tile ids containing any of these belong to page chrome, not people.
// Dashed patterns match anywhere, single words only as a whole word.
var excludedTilePatterns = []string{
	"call-screen-wrapper", "calling-screen", "ts-calling-screen", "app-container",
	"modern-stage-wrapper", "stage-layouts-renderer", "stage-layout", "only-videos-wrapper",
	"mixedstage-wrapper", "participant-avatar", "avatar-image-container", "calling-roster",
	"roster", "attendeesinmeeting", "roster-participant", "voice-level-stream-outline",
	"arrow-navigator", "announcing-region", "unmuted", "muted", "message-list", "chat-pane",
	"control-bar",
}

// Participant ids with any of these as a dash-separated word are rejected.
var invalidIDWords = []string{
	"stream", "outline", "wrapper", "container", "layout", "roster",
	"button", "control", "menu", "panel", "undefined", "null",
}

type activeSpeaker struct {
	participantID string
	displayName   string
	startMs       int64
	startMeeting  float64
	lastSeenMs    int64
	confidence    string
}

type participantState struct {
	displayName string
	muted       bool
	present     bool
	updatedMs   int64
}

// SpeakingTracker polls a meeting page for the active speaker and the visible
// participants, turning them into speaking segments and participant events.
type SpeakingTracker struct {
	cfg      config.Speaking
	probe    SpeakingProbe
	platform constant.Platform
	nowMs    func() int64

	mu           sync.Mutex
	running      bool
	startMs      int64
	stopMs       int64
	active       map[string]*activeSpeaker
	segments     []entities.SpeakingSegment
	events       []entities.ParticipantEvent
	participants map[string]*entities.ParticipantIdentity
	states       map[string]*participantState
	nameToID     map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSpeakingTracker(cfg config.Speaking, probe SpeakingProbe, platform constant.Platform) *SpeakingTracker {
	return &SpeakingTracker{
		cfg:          cfg,
		probe:        probe,
		platform:     platform,
		nowMs:        func() int64 { return time.Now().UnixMilli() },
		active:       map[string]*activeSpeaker{},
		participants: map[string]*entities.ParticipantIdentity{},
		states:       map[string]*participantState{},
		nameToID:     map[string]string{},
	}
}

func (t *SpeakingTracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.startMs = t.nowMs()
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.loop(ctx, t.cfg.SpeakingInterval, t.detectOnce)
	t.loop(ctx, t.cfg.ParticipantInterval, t.scan)
	t.loop(ctx, t.cfg.CleanupInterval, func(context.Context) { t.sweep() })
	zerolog.Ctx(ctx).Info().Str("platform", t.platform.String()).Msg("speaking tracker started")
}

func (t *SpeakingTracker) loop(ctx context.Context, interval time.Duration, step func(context.Context)) {
	if interval <= 0 {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("speaking tracker step panicked")
						}
					}()
					step(ctx)
				}()
			}
		}
	}()
}

// Stop ends polling, closes open segments at their last sighting and returns
// everything collected. Calling it on a tracker that never started returns an
// empty export.
func (t *SpeakingTracker) Stop() entities.SpeakingExport {
	t.mu.Lock()
	cancel := t.cancel
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if wasRunning {
		now := t.nowMs()
		t.stopMs = now
		for id := range t.active {
			t.closeSegment(id)
		}
		for id, st := range t.states {
			if !st.present {
				continue
			}
			st.present = false
			t.recordEvent(id, st.displayName, constant.ParticipantLeave, now)
			if p, ok := t.participants[id]; ok && p.LeftAt == nil {
				left := now
				p.LeftAt = &left
			}
		}
	}
	return t.export()
}

func (t *SpeakingTracker) Stats() entities.TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return entities.TrackerStats{
		Running:           t.running,
		Participants:      len(t.participants),
		ActiveSpeakers:    len(t.active),
		Segments:          len(t.segments),
		Events:            len(t.events),
		TotalSpeakingTime: t.totalSpeakingTime(),
	}
}

// detectOnce registers the first valid active speaker reported by the page.
func (t *SpeakingTracker) detectOnce(ctx context.Context) {
	rawIDs, err := t.probe.ActiveSpeakers(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("speaker detection failed")
		return
	}
	for _, raw := range rawIDs {
		id, name, ok := participantFromTile(raw)
		if !ok {
			continue
		}
		t.mu.Lock()
		t.register(id, name)
		t.openSegment(id, name, "high")
		t.mu.Unlock()
		return
	}
}

// sweep closes segments whose speaker has not been seen within the gap threshold.
func (t *SpeakingTracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowMs()
	gap := t.cfg.GapThreshold.Milliseconds()
	for id, a := range t.active {
		if now-a.lastSeenMs > gap {
			t.closeSegment(id)
		}
	}
}

// scan diffs the visible participants against the last known state.
func (t *SpeakingTracker) scan(ctx context.Context) {
	snapshots, err := t.probe.Participants(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("participant scan failed")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowMs()
	seen := map[string]bool{}

	for _, snap := range snapshots {
		id, name, ok := participantFromTile(snap.RawID)
		if !ok {
			continue
		}
		seen[id] = true

		st, known := t.states[id]
		if !known {
			t.register(id, name)
			t.recordEvent(id, name, constant.ParticipantJoin, now)
			if snap.Muted {
				t.recordEvent(id, name, constant.ParticipantMute, now)
			}
			t.states[id] = &participantState{displayName: name, muted: snap.Muted, present: true, updatedMs: now}
			continue
		}

		if st.muted != snap.Muted {
			kind := constant.ParticipantUnmute
			if snap.Muted {
				kind = constant.ParticipantMute
			}
			t.recordEvent(id, st.displayName, kind, now)
			st.muted = snap.Muted
		}
		if !st.present {
			t.recordEvent(id, st.displayName, constant.ParticipantJoin, now)
			st.present = true
			if p, ok := t.participants[id]; ok {
				p.LeftAt = nil
			}
		}
		st.updatedMs = now
		if p, ok := t.participants[id]; ok {
			p.LastSeen = now
		}
	}

	for id, st := range t.states {
		if !st.present || seen[id] {
			continue
		}
		t.recordEvent(id, st.displayName, constant.ParticipantLeave, now)
		st.present = false
		st.updatedMs = now
		if p, ok := t.participants[id]; ok {
			left := now
			p.LeftAt = &left
		}
	}
}

// register must be called with t.mu held.
func (t *SpeakingTracker) register(id, name string) {
	if p, ok := t.participants[id]; ok {
		p.LastSeen = t.nowMs()
		return
	}
	if _, taken := t.nameToID[name]; taken {
		return
	}
	now := t.nowMs()
	t.participants[id] = &entities.ParticipantIdentity{
		ParticipantID: id,
		DisplayName:   name,
		FirstSeen:     now,
		LastSeen:      now,
	}
	t.nameToID[name] = id
}

// openSegment must be called with t.mu held.
func (t *SpeakingTracker) openSegment(id, name, confidence string) {
	now := t.nowMs()
	if a, ok := t.active[id]; ok {
		a.lastSeenMs = now
		return
	}
	t.active[id] = &activeSpeaker{
		participantID: id,
		displayName:   name,
		startMs:       now,
		startMeeting:  t.meetingTime(now),
		lastSeenMs:    now,
		confidence:    confidence,
	}
}

// closeSegment must be called with t.mu held. Segments shorter than
// minSegmentDuration are dropped.
func (t *SpeakingTracker) closeSegment(id string) {
	a, ok := t.active[id]
	if !ok {
		return
	}
	delete(t.active, id)
	duration := float64(a.lastSeenMs-a.startMs) / 1000
	if duration < minSegmentDuration {
		return
	}
	t.segments = append(t.segments, entities.SpeakingSegment{
		ParticipantID:    a.participantID,
		DisplayName:      a.displayName,
		StartTime:        a.startMs,
		EndTime:          a.lastSeenMs,
		StartMeetingTime: a.startMeeting,
		EndMeetingTime:   t.meetingTime(a.lastSeenMs),
		Duration:         duration,
		Confidence:       a.confidence,
	})
}

func (t *SpeakingTracker) recordEvent(id, name string, kind constant.ParticipantEventType, at int64) {
	t.events = append(t.events, entities.ParticipantEvent{
		ParticipantID:    id,
		DisplayName:      name,
		EventType:        kind,
		Timestamp:        at,
		MeetingTimestamp: t.meetingTime(at),
		Platform:         t.platform,
	})
}

func (t *SpeakingTracker) meetingTime(ms int64) float64 {
	return float64(ms-t.startMs) / 1000
}

func (t *SpeakingTracker) totalSpeakingTime() float64 {
	total := 0.0
	for _, s := range t.segments {
		total += s.Duration
	}
	return total
}

func (t *SpeakingTracker) export() entities.SpeakingExport {
	participants := make(map[string]entities.ParticipantIdentity, len(t.participants))
	idToName := make(map[string]string, len(t.participants))
	for id, p := range t.participants {
		participants[id] = *p
		idToName[id] = p.DisplayName
	}
	return entities.SpeakingExport{
		Metadata: entities.SpeakingMetadata{
			TrackerVersion:           trackerVersion,
			Platform:                 t.platform,
			StartTime:                t.startMs,
			EndTime:                  t.stopMs,
			TotalSpeakingTimeSeconds: float64(int(t.totalSpeakingTime()*100+0.5)) / 100,
		},
		SpeakingSegments:    append([]entities.SpeakingSegment(nil), t.segments...),
		ParticipantEvents:   append([]entities.ParticipantEvent(nil), t.events...),
		Participants:        participants,
		ParticipantIDToName: maps.Clone(idToName),
		ExportTimestamp:     t.nowMs(),
	}
}

// participantFromTile turns a raw tile id into a participant id and a clean
// display name. ok is false for tiles that do not represent a person.
func participantFromTile(raw string) (id, name string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || excludedTile(raw) {
		return "", "", false
	}
	name = cleanDisplayName(raw)
	if name == "" {
		return "", "", false
	}
	id = participantPrefix + strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	if !validParticipantID(id) {
		return "", "", false
	}
	return id, name, true
}

func cleanDisplayName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	for changed := true; changed; {
		changed = false
		for _, suffix := range displayNameSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
				changed = true
			}
		}
	}
	return name
}

func excludedTile(raw string) bool {
	lower := strings.ToLower(raw)
	words := idWords(lower)
	for _, p := range excludedTilePatterns {
		if strings.Contains(p, "-") {
			if strings.Contains(lower, p) {
				return true
			}
		} else if slices.Contains(words, p) {
			return true
		}
	}
	return false
}

func validParticipantID(id string) bool {
	rest := strings.TrimPrefix(id, participantPrefix)
	if len(rest) < 2 {
		return false
	}
	for _, w := range idWords(rest) {
		if slices.Contains(invalidIDWords, w) {
			return false
		}
	}
	return true
}

// idWords splits s into lowercase words on anything but letters and digits.
func idWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
