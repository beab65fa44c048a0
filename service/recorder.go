package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"meeting-bot/config"
	"meeting-bot/constant"
	"meeting-bot/entities"
	"meeting-bot/pkg/ffmpeg"
)

const (
	mergedFileName    = "video_with_audio.webm"
	videoOnlyFileName = "video_only.webm"
	videoTempFileName = "video_temp.webm"
	audioFileName     = "audio_only.webm"
	metadataFileName  = "metadata.json"
)

var ErrNoMedia = errors.New("recording produced no media")

// Recorder captures the audio and video of one joined meeting and merges
// them into a single synchronized file when it stops.
type Recorder struct {
	cfg     config.Recording
	meeting entities.Meeting
	surface CaptureSurface
	pulse   *PulseAudioCapture
	now     func() time.Time

	mu      sync.Mutex
	state   constant.RecordingState
	info    entities.RecordingInfo
	tempDir string

	audioProc *ffmpeg.Process
	audioFile *os.File
	audioMu   sync.Mutex
}

func NewRecorder(cfg config.Recording, meeting *entities.Meeting, surface CaptureSurface) *Recorder {
	return &Recorder{
		cfg:     cfg,
		meeting: *meeting,
		surface: surface,
		pulse:   NewPulseAudioCapture(cfg),
		now:     time.Now,
		state:   constant.RecordingStateIdle,
	}
}

func (r *Recorder) State() constant.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != constant.RecordingStateIdle {
		return fmt.Errorf("recorder is %s", r.state)
	}
	r.state = constant.RecordingStateStarting

	startedAt := r.now()
	id := fmt.Sprintf("%s_%d", r.meeting.ID, startedAt.Unix())
	dir := filepath.Join(r.cfg.Dir, id)
	r.tempDir = filepath.Join(r.cfg.TempDir, id)
	for _, d := range []string{dir, r.tempDir} {
		if err := os.MkdirAll(d, os.ModePerm); err != nil {
			r.state = constant.RecordingStateError
			return fmt.Errorf("create recording directory: %w", err)
		}
	}

	videoStartedAt := r.surface.VideoStartedAt()
	if videoStartedAt.IsZero() {
		videoStartedAt = startedAt
	}
	r.info = entities.RecordingInfo{
		RecordingID:      id,
		MeetingID:        r.meeting.ID,
		Dir:              dir,
		AudioSource:      constant.AudioSourceNone,
		VideoStartedAtMs: videoStartedAt.UnixMilli(),
		StartedAt:        startedAt.UTC(),
	}

	logger := zerolog.Ctx(ctx).With().Str("recording_id", id).Logger()
	audioPath := filepath.Join(r.tempDir, audioFileName)
	switch {
	case r.startPulse(ctx, audioPath):
		r.info.AudioSource = constant.AudioSourcePulse
	case r.startInPage(ctx, audioPath):
		r.info.AudioSource = constant.AudioSourceInPage
	default:
		logger.Warn().Msg("no audio source available, recording video only")
		r.info.AudioMissing = true
	}

	r.state = constant.RecordingStateRecording
	logger.Info().
		Str("audio_source", string(r.info.AudioSource)).
		Int64("video_started_at_ms", r.info.VideoStartedAtMs).
		Int64("audio_started_at_ms", r.info.AudioStartedAtMs).
		Msg("recording started")
	return nil
}

func (r *Recorder) startPulse(ctx context.Context, output string) bool {
	if !r.pulse.Available(ctx) {
		return false
	}
	proc, err := r.pulse.Start(ctx, output)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("pulseaudio capture failed, falling back to in-page audio")
		return false
	}
	r.audioProc = proc
	r.info.AudioStartedAtMs = proc.StartedAt().UnixMilli()
	return true
}

func (r *Recorder) startInPage(ctx context.Context, output string) bool {
	f, err := os.Create(output)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create in-page audio file")
		return false
	}
	r.audioMu.Lock()
	r.audioFile = f
	r.audioMu.Unlock()

	startedAt, err := r.surface.StartInPageAudio(ctx, r.writeChunk)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("in-page audio capture failed")
		r.closeAudioFile()
		_ = os.Remove(output)
		return false
	}
	if startedAt.IsZero() {
		startedAt = r.now()
	}
	r.info.AudioStartedAtMs = startedAt.UnixMilli()
	return true
}

func (r *Recorder) writeChunk(chunk []byte) {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()
	if r.audioFile == nil {
		return
	}
	_, _ = r.audioFile.Write(chunk)
}

func (r *Recorder) closeAudioFile() {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()
	if r.audioFile != nil {
		_ = r.audioFile.Close()
		r.audioFile = nil
	}
}

// Stop ends both captures and finalizes the recording directory. Media that
// could not be merged is kept as separate streams.
func (r *Recorder) Stop(ctx context.Context) (*entities.RecordingInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != constant.RecordingStateRecording {
		return nil, fmt.Errorf("recorder is %s", r.state)
	}
	r.state = constant.RecordingStateStopping
	logger := zerolog.Ctx(ctx).With().Str("recording_id", r.info.RecordingID).Logger()

	switch r.info.AudioSource {
	case constant.AudioSourcePulse:
		if err := r.audioProc.Stop(); err != nil {
			logger.Warn().Err(err).Msg("audio capture did not stop cleanly")
		}
	case constant.AudioSourceInPage:
		if err := r.surface.StopInPageAudio(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to stop in-page audio")
		}
		r.closeAudioFile()
	}

	videoPath, err := r.surface.StopVideo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to finalize page video")
	}
	if !nonEmptyFile(videoPath) {
		videoPath = newestFile(r.cfg.TempDir, r.meeting.ID+"_*.webm")
		if videoPath != "" {
			logger.Info().Str("path", videoPath).Msg("recovered page video from temp directory")
		}
	}

	err = r.finalize(ctx, videoPath, filepath.Join(r.tempDir, audioFileName))
	r.info.StoppedAt = r.now().UTC()
	if err != nil {
		r.state = constant.RecordingStateError
	} else {
		r.state = constant.RecordingStateStopped
	}
	r.info.State = r.state
	if werr := r.writeMetadata(); werr != nil {
		logger.Error().Err(werr).Msg("failed to write recording metadata")
	}
	_ = os.RemoveAll(r.tempDir)

	info := r.info
	if err != nil {
		return &info, err
	}
	logger.Info().
		Float64("sync_offset_seconds", info.SyncOffsetSeconds).
		Bool("audio_missing", info.AudioMissing).
		Strs("files", info.MediaFiles()).
		Msg("recording stopped")
	return &info, nil
}

func (r *Recorder) finalize(ctx context.Context, videoSrc, audioSrc string) error {
	dir := r.info.Dir
	hasVideo := nonEmptyFile(videoSrc)
	hasAudio := nonEmptyFile(audioSrc)

	var audioPath string
	if hasAudio {
		audioPath = filepath.Join(dir, audioFileName)
		if err := moveFile(audioSrc, audioPath); err != nil {
			return fmt.Errorf("move audio: %w", err)
		}
		r.info.Files.AudioForTranscription = audioPath
	} else {
		r.info.AudioMissing = true
	}

	if !hasVideo {
		if !hasAudio {
			return ErrNoMedia
		}
		r.info.Files.AudioOnly = audioPath
		return nil
	}

	videoTemp := filepath.Join(dir, videoTempFileName)
	if err := moveFile(videoSrc, videoTemp); err != nil {
		return fmt.Errorf("move video: %w", err)
	}
	videoOnly := filepath.Join(dir, videoOnlyFileName)

	if !hasAudio {
		r.info.Files.VideoOnly = videoOnly
		return os.Rename(videoTemp, videoOnly)
	}

	offset := SyncOffset(r.info.VideoStartedAtMs, r.info.AudioStartedAtMs)
	r.info.SyncOffsetSeconds = offset
	merged := filepath.Join(dir, mergedFileName)
	if err := mergeStreams(ctx, r.cfg.FFmpegPath, videoTemp, audioPath, merged, offset); err != nil || !nonEmptyFile(merged) {
		if err == nil {
			err = errors.New("merge produced no output")
		}
		r.info.MergeError = err.Error()
		r.info.Files.VideoOnly = videoOnly
		r.info.Files.AudioOnly = audioPath
		_ = os.Remove(merged)
		return os.Rename(videoTemp, videoOnly)
	}
	r.info.SyncApplied = offset != 0
	r.info.Files.VideoWithAudio = merged
	_ = os.Remove(videoTemp)
	return nil
}

func (r *Recorder) writeMetadata() error {
	data, err := json.MarshalIndent(r.info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.info.Dir, metadataFileName), data, 0o644)
}

func nonEmptyFile(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

// newestFile returns the most recently modified file in dir matching pattern.
func newestFile(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return ""
	}
	var (
		newest  string
		newestT time.Time
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() || fi.Size() == 0 {
			continue
		}
		if newest == "" || fi.ModTime().After(newestT) {
			newest, newestT = m, fi.ModTime()
		}
	}
	return newest
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
