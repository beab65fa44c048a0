package entities

import "time"

type MeetingSession struct {
	SessionID      string     `json:"session_id"`
	Meeting        Meeting    `json:"meeting"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	IsRecording    bool       `json:"is_recording"`
	IsTranscribing bool       `json:"is_transcribing"`
}

type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type TranscriptMetadata struct {
	MeetingID        string     `json:"meeting_id"`
	MeetingURL       string     `json:"meeting_url"`
	Platform         string     `json:"platform"`
	Title            string     `json:"title"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	DurationSeconds  float64    `json:"duration_seconds"`
	ParticipantNames []string   `json:"participant_names"`
}

type TranscriptExport struct {
	Metadata        TranscriptMetadata `json:"metadata"`
	Transcription   []TranscriptLine   `json:"transcription"`
	ExportTimestamp time.Time          `json:"export_timestamp"`
}
