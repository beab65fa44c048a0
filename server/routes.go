package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"meeting-bot/dto"
	"meeting-bot/entities"
	"meeting-bot/repository"
	"meeting-bot/service"
)

type botAPI interface {
	Status() dto.StatusSnapshot
	ManualJoin(ctx context.Context, displayName, meetingURL string) (*entities.Meeting, error)
}

type artifactLookup interface {
	Get(ctx context.Context, meetingURL string) (*entities.MeetingArtifact, error)
	Exists(ctx context.Context, meetingURL string) (bool, error)
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func addRoutes(ctx context.Context, r *gin.Engine, bot botAPI) {
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, bot.Status())
	})

	r.POST("/meetings/join", func(c *gin.Context) {
		var req dto.ManualJoinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		m, err := bot.ManualJoin(zerolog.Ctx(ctx).WithContext(c.Request.Context()), req.DisplayName, req.URL)
		if err != nil {
			c.JSON(joinStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, dto.ManualJoinResponse{
			MeetingId: m.ID,
			Platform:  m.Platform.String(),
		})
	})
}

// addArtifactRoutes serves lookups against the artifact index by meeting url.
func addArtifactRoutes(ctx context.Context, r *gin.Engine, index artifactLookup) {
	r.GET("/meetings", func(c *gin.Context) {
		meetingURL := strings.TrimSpace(c.Query("url"))
		if meetingURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
			return
		}
		reqCtx := zerolog.Ctx(ctx).WithContext(c.Request.Context())

		resp := dto.ArtifactLookupResponse{URL: meetingURL}
		ok, err := index.Exists(reqCtx, meetingURL)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("url", meetingURL).Msg("artifact index lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, resp)
			return
		}

		artifact, err := index.Get(reqCtx, meetingURL)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, resp)
			return
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("url", meetingURL).Msg("artifact index lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.Exists = true
		resp.Artifact = artifact
		c.JSON(http.StatusOK, resp)
	})
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnsupportedPlatform):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrCapacityReached):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
