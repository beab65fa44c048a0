package entities

import "time"

// MeetingArtifact indexes the stored artifacts of a meeting by its URL.
type MeetingArtifact struct {
	MeetingURL   string            `json:"-" gorm:"primaryKey;column:meeting_url"`
	ArtifactRefs map[string]string `json:"artifact_refs" gorm:"serializer:json"`
	Metadata     map[string]any    `json:"metadata" gorm:"serializer:json"`
	AddedAt      time.Time         `json:"added_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (MeetingArtifact) TableName() string {
	return "meeting_artifacts"
}
