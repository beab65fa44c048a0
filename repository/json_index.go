package repository

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meeting-bot/entities"
)

type jsonDatabase struct {
	CreatedAt   time.Time                            `json:"created_at"`
	LastUpdated time.Time                            `json:"last_updated"`
	Meetings    map[string]*entities.MeetingArtifact `json:"meetings"`
}

// JSONIndex keeps the artifact index in a single JSON file. Every write
// rewrites the whole file through a temp file and rename.
type JSONIndex struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewJSONIndex(path string) *JSONIndex {
	return &JSONIndex{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (j *JSONIndex) Index(ctx context.Context, meetingURL string, refs map[string]string, metadata map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	db, err := j.load()
	if err != nil {
		return err
	}
	now := j.now()
	entry := &entities.MeetingArtifact{
		MeetingURL:   meetingURL,
		ArtifactRefs: maps.Clone(refs),
		Metadata:     maps.Clone(metadata),
		AddedAt:      now,
		UpdatedAt:    now,
	}
	if prev, ok := db.Meetings[meetingURL]; ok {
		entry.AddedAt = prev.AddedAt
	}
	db.Meetings[meetingURL] = entry
	db.LastUpdated = now
	return j.save(db)
}

func (j *JSONIndex) Get(ctx context.Context, meetingURL string) (*entities.MeetingArtifact, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	db, err := j.load()
	if err != nil {
		return nil, err
	}
	entry, ok := db.Meetings[meetingURL]
	if !ok {
		return nil, ErrNotFound
	}
	entry.MeetingURL = meetingURL
	return entry, nil
}

func (j *JSONIndex) Exists(ctx context.Context, meetingURL string) (bool, error) {
	_, err := j.Get(ctx, meetingURL)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (j *JSONIndex) load() (*jsonDatabase, error) {
	raw, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		now := j.now()
		return &jsonDatabase{CreatedAt: now, LastUpdated: now, Meetings: map[string]*entities.MeetingArtifact{}}, nil
	}
	if err != nil {
		return nil, err
	}
	db := &jsonDatabase{}
	if err := json.Unmarshal(raw, db); err != nil {
		return nil, err
	}
	if db.Meetings == nil {
		db.Meetings = map[string]*entities.MeetingArtifact{}
	}
	return db, nil
}

func (j *JSONIndex) save(db *jsonDatabase) error {
	if err := os.MkdirAll(filepath.Dir(j.path), os.ModePerm); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), j.path)
}
