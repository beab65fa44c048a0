package dto

import (
	"time"

	"github.com/google/uuid"
	"meeting-bot/entities"
)

type JoinRequestMessage struct {
	RequestId   uuid.UUID `json:"requestId"`
	DisplayName string    `json:"displayName"`
	URL         string    `json:"url"`
}

// MeetingInviteMessage is published by the calendar ingestion side for every
// invite it discovers.
type MeetingInviteMessage struct {
	EventId     string    `json:"eventId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Source      string    `json:"source"`
	Organizer   string    `json:"organizer,omitempty"`
	Description string    `json:"description,omitempty"`
}

type MeetingExportedMessage struct {
	MeetingId    string            `json:"meetingId"`
	URL          string            `json:"url"`
	ArtifactRefs map[string]string `json:"artifactRefs"`
	LocalPaths   map[string]string `json:"localPaths,omitempty"`
	ExportedAt   time.Time         `json:"exportedAt"`
}

type UpcomingJob struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	NextRun time.Time `json:"nextRun"`
}

type ActiveSession struct {
	MeetingId      string                 `json:"meetingId"`
	SessionId      string                 `json:"sessionId"`
	Title          string                 `json:"title"`
	URL            string                 `json:"url"`
	Platform       string                 `json:"platform"`
	StartedAt      time.Time              `json:"startedAt"`
	Joined         bool                   `json:"joined"`
	RejoinAttempts int                    `json:"rejoinAttempts"`
	RecordingState string                 `json:"recordingState,omitempty"`
	Speaking       *entities.TrackerStats `json:"speaking,omitempty"`
}

type StatusSnapshot struct {
	Running          bool            `json:"running"`
	SchedulerRunning bool            `json:"schedulerRunning"`
	ScheduledCount   int             `json:"scheduledCount"`
	ActiveSessions   []ActiveSession `json:"activeSessions"`
	UpcomingJobs     []UpcomingJob   `json:"upcomingJobs"`
}

// ArtifactLookupResponse answers whether a meeting url was already exported.
type ArtifactLookupResponse struct {
	URL      string                    `json:"url"`
	Exists   bool                      `json:"exists"`
	Artifact *entities.MeetingArtifact `json:"artifact,omitempty"`
}

type ManualJoinRequest struct {
	DisplayName string `json:"displayName"`
	URL         string `json:"url" binding:"required"`
}

type ManualJoinResponse struct {
	MeetingId string `json:"meetingId"`
	Platform  string `json:"platform"`
}
