package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"meeting-bot/pkg/ffmpeg"
)

// SyncOffset is the delay in seconds between the start of the video and the
// start of the audio. Positive means video started first.
func SyncOffset(videoStartedAtMs, audioStartedAtMs int64) float64 {
	return float64(audioStartedAtMs-videoStartedAtMs) / 1000
}

// MergeArgs builds the ffmpeg arguments that mux video and audio into one
// file, trimming the head of whichever stream started earlier.
func MergeArgs(videoPath, audioPath, outputPath string, offset float64) []string {
	var args []string
	switch {
	case offset > 0:
		args = append(args, "-ss", formatSeconds(offset), "-i", videoPath, "-i", audioPath)
	case offset < 0:
		args = append(args, "-i", videoPath, "-ss", formatSeconds(-offset), "-i", audioPath)
	default:
		args = append(args, "-i", videoPath, "-i", audioPath)
	}
	return append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "libopus",
		"-b:a", "192k",
		"-shortest",
		"-y",
		outputPath,
	)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func mergeStreams(ctx context.Context, ffmpegPath, videoPath, audioPath, outputPath string, offset float64) error {
	args := MergeArgs(videoPath, audioPath, outputPath, offset)
	zerolog.Ctx(ctx).Info().
		Float64("sync_offset_seconds", offset).
		Strs("ffmpeg_args", args).
		Msg("merging audio and video")

	output, err := ffmpeg.Run(ctx, ffmpegPath, args...)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("ffmpeg_output", string(output)).Msg("ffmpeg merge failed")
		return fmt.Errorf("merge failed: %w", err)
	}
	return nil
}
