package service

import (
	"context"
	"time"

	"meeting-bot/constant"
	"meeting-bot/entities"
)

// JoinHandler drives a platform's join flow until the bot has been admitted.
// Join must give up when ctx is done.
type JoinHandler interface {
	Join(ctx context.Context, meeting *entities.Meeting) (MeetingHandle, error)
}

// EndProbe answers whether the bot is still inside the meeting.
type EndProbe interface {
	InMeeting(ctx context.Context) (bool, error)
	Removed(ctx context.Context) (bool, error)
}

// SpeakingProbe reports raw participant tile ids as shown on the meeting page.
type SpeakingProbe interface {
	ActiveSpeakers(ctx context.Context) ([]string, error)
	Participants(ctx context.Context) ([]entities.ParticipantSnapshot, error)
}

// AudioChunkSink receives encoded audio produced inside the meeting page.
type AudioChunkSink func(chunk []byte)

// CaptureSurface exposes the media produced by a joined meeting page.
type CaptureSurface interface {
	VideoStartedAt() time.Time
	// StartInPageAudio begins in-page audio capture and returns when the first
	// sample was taken.
	StartInPageAudio(ctx context.Context, sink AudioChunkSink) (time.Time, error)
	StopInPageAudio(ctx context.Context) error
	// StopVideo finalizes the page video and returns its path.
	StopVideo(ctx context.Context) (string, error)
}

type MeetingHandle interface {
	EndProbe
	SpeakingProbe
	CaptureSurface
	Close(ctx context.Context) error
}

// CaptionSource is implemented by handles that can read live captions.
type CaptionSource interface {
	Captions(ctx context.Context) ([]entities.TranscriptLine, error)
}

type Poller interface {
	Poll(ctx context.Context) ([]*entities.Meeting, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)
	UploadFile(ctx context.Context, path, key, contentType string) (string, error)
}

type Notifier interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// MediaRecorder captures one session's audio and video.
type MediaRecorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*entities.RecordingInfo, error)
	State() constant.RecordingState
}

type SpeakerTracker interface {
	Start(ctx context.Context)
	Stop() entities.SpeakingExport
	Stats() entities.TrackerStats
}
