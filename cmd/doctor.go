package cmd

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"meeting-bot/config"
	"meeting-bot/pkg/storage"
	"meeting-bot/service"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

// doctor checks that the host has what recording and export need.
func doctor(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "check external tools and services",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			failed := runChecks(ctx, cmd.OutOrStdout(), doctorChecks(config))
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func doctorChecks(cfg *config.Config) []check {
	checks := []check{
		{name: "ffmpeg", run: lookPath(cfg.Recording.FFmpegPath)},
		{name: "pulseaudio", run: func(ctx context.Context) error {
			if !service.NewPulseAudioCapture(cfg.Recording).Available(ctx) {
				return fmt.Errorf("%s info did not report a server", cfg.Recording.PactlPath)
			}
			return nil
		}},
	}
	if cfg.Browser.Bin != "" {
		checks = append(checks, check{name: "browser", run: lookPath(cfg.Browser.Bin)})
	}
	if cfg.Storage != nil {
		checks = append(checks, check{name: "minio", run: func(ctx context.Context) error {
			return storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket, 1).EnsureBucket(ctx)
		}})
	}
	if cfg.DB != nil {
		checks = append(checks, check{name: "postgres", run: cfg.DB.PingContext})
	}
	return checks
}

func lookPath(bin string) func(context.Context) error {
	return func(context.Context) error {
		_, err := exec.LookPath(bin)
		return err
	}
}

func runChecks(ctx context.Context, w io.Writer, checks []check) int {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	failed := 0
	for _, c := range checks {
		if err := c.run(ctx); err != nil {
			failed++
			bad.Fprintf(w, "✗ %-10s %v\n", c.name, err)
			continue
		}
		ok.Fprintf(w, "✓ %s\n", c.name)
	}
	return failed
}
