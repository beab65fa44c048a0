package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
	"meeting-bot/repository"
)

const fileTimestampLayout = "20060102_150405"

var mediaContentTypes = map[string]string{
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".json": "application/json",
}

// Exporter persists the artifacts of a finished session. Every artifact is
// uploaded to the object store; an artifact that cannot be uploaded is kept
// on local disk instead and left out of the index.
type Exporter struct {
	cfg      config.Export
	store    ObjectStore
	index    repository.ArtifactIndex
	notifier Notifier
	now      func() time.Time
}

func NewExporter(cfg config.Export, store ObjectStore, index repository.ArtifactIndex, notifier Notifier) *Exporter {
	return &Exporter{
		cfg:      cfg,
		store:    store,
		index:    index,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type exportRun struct {
	meeting entities.Meeting
	prefix  string
	stamp   string
	refs    map[string]string
	local   map[string]string
	errs    []error
}

func (e *Exporter) Export(ctx context.Context, a SessionArtifacts) error {
	now := e.now()
	run := &exportRun{
		meeting: a.Session.Meeting,
		prefix:  path.Join(e.cfg.Prefix, a.Session.Meeting.ID),
		stamp:   now.Format(fileTimestampLayout),
		refs:    map[string]string{},
		local:   map[string]string{},
	}
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", run.meeting.ID).Logger()
	ctx = logger.WithContext(ctx)

	if a.Transcript != nil {
		e.putJSON(ctx, run, "transcript", a.Transcript.Export(a.Session, now))
	}
	if a.Speaking != nil {
		e.putJSON(ctx, run, "speaking", a.Speaking)
	}
	for i, rec := range a.Recordings {
		e.putRecording(ctx, run, artifactSuffix(i), rec)
	}

	if len(run.refs) > 0 && e.index != nil {
		if err := e.index.Index(ctx, run.meeting.URL, run.refs, e.metadata(a, run)); err != nil {
			logger.Error().Err(err).Msg("failed to index meeting artifacts")
			run.errs = append(run.errs, fmt.Errorf("index: %w", err))
		}
	}
	if a.Transcript != nil {
		a.Transcript.Reset()
	}

	if e.notifier != nil {
		msg := dto.MeetingExportedMessage{
			MeetingId:    run.meeting.ID,
			URL:          run.meeting.URL,
			ArtifactRefs: run.refs,
			LocalPaths:   run.local,
			ExportedAt:   now,
		}
		if err := e.notifier.Publish(ctx, constant.RoutingKeyMeetingExported, msg); err != nil {
			logger.Warn().Err(err).Msg("failed to publish meeting exported event")
		}
	}

	logger.Info().
		Int("uploaded", len(run.refs)).
		Int("local", len(run.local)).
		Msg("meeting artifacts exported")
	return errors.Join(run.errs...)
}

func artifactSuffix(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("_%d", i+1)
}

func (e *Exporter) putJSON(ctx context.Context, run *exportRun, name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		run.errs = append(run.errs, fmt.Errorf("encode %s: %w", name, err))
		return
	}
	fileName := fmt.Sprintf("%s_%s.json", name, run.stamp)
	if e.store != nil {
		ref, err := e.store.Upload(ctx, data, path.Join(run.prefix, fileName), "application/json")
		if err == nil {
			run.refs[name] = ref
			return
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("artifact", name).Msg("upload failed, saving locally")
	}

	dir := filepath.Join(e.cfg.LocalDir, run.meeting.ID)
	localPath := filepath.Join(dir, fileName)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		run.errs = append(run.errs, fmt.Errorf("save %s: %w", name, err))
		return
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		run.errs = append(run.errs, fmt.Errorf("save %s: %w", name, err))
		return
	}
	run.local[name] = localPath
}

// putRecording uploads the recording metadata and media files. Media that
// fails to upload already lives in the recording directory.
func (e *Exporter) putRecording(ctx context.Context, run *exportRun, suffix string, rec *entities.RecordingInfo) {
	if rec == nil {
		return
	}
	e.putJSON(ctx, run, "recording_metadata"+suffix, rec)

	files := []struct{ name, path string }{
		{"video_with_audio", rec.Files.VideoWithAudio},
		{"video_only", rec.Files.VideoOnly},
		{"audio_only", rec.Files.AudioOnly},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		name := f.name + suffix
		if e.store != nil {
			key := path.Join(run.prefix, "recordings", rec.RecordingID, filepath.Base(f.path))
			ref, err := e.store.UploadFile(ctx, f.path, key, contentTypeFor(f.path))
			if err == nil {
				run.refs[name] = ref
				continue
			}
			zerolog.Ctx(ctx).Warn().Err(err).Str("artifact", name).Msg("media upload failed, keeping local file")
		}
		run.local[name] = f.path
	}
}

func contentTypeFor(p string) string {
	if ct, ok := mediaContentTypes[filepath.Ext(p)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (e *Exporter) metadata(a SessionArtifacts, run *exportRun) map[string]any {
	m := run.meeting
	meta := map[string]any{
		"meeting_id":      m.ID,
		"title":           m.Title,
		"platform":        m.Platform.String(),
		"source":          string(m.Source),
		"start_time":      m.StartTime.Format(time.RFC3339),
		"end_time":        m.EndTime.Format(time.RFC3339),
		"session_id":      a.Session.SessionID,
		"was_kicked":      m.WasKicked,
		"rejoin_attempts": m.RejoinAttempts,
	}
	if len(run.local) > 0 {
		meta["local_paths"] = run.local
	}
	return meta
}
