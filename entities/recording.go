package entities

import (
	"time"

	"meeting-bot/constant"
)

type RecordingFiles struct {
	VideoWithAudio        string `json:"video_with_audio,omitempty"`
	VideoOnly             string `json:"video_only,omitempty"`
	AudioOnly             string `json:"audio_only,omitempty"`
	AudioForTranscription string `json:"audio_for_transcription,omitempty"`
}

// RecordingInfo is written next to the media as metadata.json once a recording is finalized.
type RecordingInfo struct {
	RecordingID       string                  `json:"recording_id"`
	MeetingID         string                  `json:"meeting_id"`
	Dir               string                  `json:"dir"`
	State             constant.RecordingState `json:"state"`
	AudioSource       constant.AudioSource    `json:"audio_source"`
	VideoStartedAtMs  int64                   `json:"video_started_at_ms"`
	AudioStartedAtMs  int64                   `json:"audio_started_at_ms"`
	SyncOffsetSeconds float64                 `json:"sync_offset_seconds"`
	SyncApplied       bool                    `json:"sync_applied"`
	AudioMissing      bool                    `json:"audio_missing"`
	MergeError        string                  `json:"merge_error,omitempty"`
	Files             RecordingFiles          `json:"files"`
	StartedAt         time.Time               `json:"started_at"`
	StoppedAt         time.Time               `json:"stopped_at"`
}

// MediaFiles lists every produced media file, in a stable order.
func (r *RecordingInfo) MediaFiles() []string {
	var out []string
	for _, p := range []string{r.Files.VideoWithAudio, r.Files.VideoOnly, r.Files.AudioOnly} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
