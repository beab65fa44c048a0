package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"meeting-bot/entities"
)

var ErrNotFound = errors.New("meeting artifact not found")

// ArtifactIndex records where the artifacts of a meeting were stored, keyed
// by meeting URL. Indexing the same URL again replaces its refs and metadata.
type ArtifactIndex interface {
	Index(ctx context.Context, meetingURL string, refs map[string]string, metadata map[string]any) error
	Get(ctx context.Context, meetingURL string) (*entities.MeetingArtifact, error)
	Exists(ctx context.Context, meetingURL string) (bool, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (ArtifactIndex, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	if err := gormDB.AutoMigrate(&entities.MeetingArtifact{}); err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Index(ctx context.Context, meetingURL string, refs map[string]string, metadata map[string]any) error {
	now := time.Now().UTC()
	artifact := &entities.MeetingArtifact{
		MeetingURL:   meetingURL,
		ArtifactRefs: refs,
		Metadata:     metadata,
		AddedAt:      now,
		UpdatedAt:    now,
	}
	return r.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meeting_url"}},
		DoUpdates: clause.AssignmentColumns([]string{"artifact_refs", "metadata", "updated_at"}),
	}).Create(artifact).Error
}

func (r *repo) Get(ctx context.Context, meetingURL string) (*entities.MeetingArtifact, error) {
	artifact := &entities.MeetingArtifact{}
	err := r.GetDB().WithContext(ctx).First(artifact, "meeting_url = ?", meetingURL).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	artifact.MeetingURL = meetingURL
	return artifact, nil
}

func (r *repo) Exists(ctx context.Context, meetingURL string) (bool, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.MeetingArtifact{}).Where("meeting_url = ?", meetingURL).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
