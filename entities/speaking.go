package entities

import "meeting-bot/constant"

// Timestamps are unix milliseconds; meeting times are seconds since tracking started.

type SpeakingSegment struct {
	ParticipantID    string  `json:"participant_id"`
	DisplayName      string  `json:"display_name"`
	StartTime        int64   `json:"start_time"`
	EndTime          int64   `json:"end_time"`
	StartMeetingTime float64 `json:"start_meeting_time"`
	EndMeetingTime   float64 `json:"end_meeting_time"`
	Duration         float64 `json:"duration"`
	Confidence       string  `json:"confidence"`
}

type ParticipantEvent struct {
	ParticipantID    string                        `json:"participant_id"`
	DisplayName      string                        `json:"display_name"`
	EventType        constant.ParticipantEventType `json:"event_type"`
	Timestamp        int64                         `json:"timestamp"`
	MeetingTimestamp float64                       `json:"meeting_timestamp"`
	Platform         constant.Platform             `json:"platform"`
}

type ParticipantIdentity struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	FirstSeen     int64  `json:"first_seen"`
	LastSeen      int64  `json:"last_seen"`
	LeftAt        *int64 `json:"left_at,omitempty"`
}

// ParticipantSnapshot is one visible participant tile as reported by the meeting page.
type ParticipantSnapshot struct {
	RawID string `json:"raw_id"`
	Muted bool   `json:"muted"`
}

type SpeakingMetadata struct {
	TrackerVersion           string            `json:"tracker_version"`
	Platform                 constant.Platform `json:"platform"`
	StartTime                int64             `json:"start_time"`
	EndTime                  int64             `json:"end_time"`
	TotalSpeakingTimeSeconds float64           `json:"total_speaking_time_seconds"`
}

type SpeakingExport struct {
	Metadata            SpeakingMetadata               `json:"metadata"`
	SpeakingSegments    []SpeakingSegment              `json:"speaking_segments"`
	ParticipantEvents   []ParticipantEvent             `json:"participant_events"`
	Participants        map[string]ParticipantIdentity `json:"participants"`
	ParticipantIDToName map[string]string              `json:"participant_id_to_name"`
	ExportTimestamp     int64                          `json:"export_timestamp"`
}

type TrackerStats struct {
	Running           bool    `json:"running"`
	Participants      int     `json:"participants"`
	ActiveSpeakers    int     `json:"active_speakers"`
	Segments          int     `json:"segments"`
	Events            int     `json:"events"`
	TotalSpeakingTime float64 `json:"total_speaking_time_seconds"`
}
