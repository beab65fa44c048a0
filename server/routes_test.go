package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"meeting-bot/constant"
	"meeting-bot/dto"
	"meeting-bot/entities"
	"meeting-bot/repository"
	"meeting-bot/service"
)

type fakeBotAPI struct {
	joinErr error
}

func (f *fakeBotAPI) Status() dto.StatusSnapshot {
	return dto.StatusSnapshot{Running: true, ScheduledCount: 2}
}

func (f *fakeBotAPI) ManualJoin(ctx context.Context, displayName, meetingURL string) (*entities.Meeting, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return &entities.Meeting{ID: "manual_0123456789ab", URL: meetingURL, Platform: constant.PlatformZoom}, nil
}

type fakeIndex struct {
	artifacts map[string]*entities.MeetingArtifact
	err       error
}

func (f *fakeIndex) Get(ctx context.Context, meetingURL string) (*entities.MeetingArtifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.artifacts[meetingURL]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeIndex) Exists(ctx context.Context, meetingURL string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.artifacts[meetingURL]
	return ok, nil
}

func newTestRouter(bot botAPI) *gin.Engine {
	return newTestRouterWithIndex(bot, &fakeIndex{})
}

func newTestRouterWithIndex(bot botAPI, index artifactLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	addHealth(r)
	addRoutes(context.Background(), r, bot)
	addArtifactRoutes(context.Background(), r, index)
	return r
}

func TestStatusRoute(t *testing.T) {
	r := newTestRouter(&fakeBotAPI{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var snap dto.StatusSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Running || snap.ScheduledCount != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestManualJoinRoute(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "accepted", body: `{"url":"https://zoom.us/j/1"}`, want: http.StatusAccepted},
		{name: "missing url", body: `{"displayName":"x"}`, want: http.StatusBadRequest},
		{name: "unsupported", body: `{"url":"https://example.com"}`, err: service.ErrUnsupportedPlatform, want: http.StatusBadRequest},
		{name: "active", body: `{"url":"https://zoom.us/j/1"}`, err: service.ErrAlreadyActive, want: http.StatusConflict},
		{name: "capacity", body: `{"url":"https://zoom.us/j/1"}`, err: service.ErrCapacityReached, want: http.StatusTooManyRequests},
		{name: "stopped", body: `{"url":"https://zoom.us/j/1"}`, err: service.ErrNotRunning, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeBotAPI{joinErr: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/meetings/join", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status code = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHealthRoute(t *testing.T) {
	r := newTestRouter(&fakeBotAPI{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestArtifactLookupRoute(t *testing.T) {
	exported := "https://zoom.us/j/42"
	index := &fakeIndex{artifacts: map[string]*entities.MeetingArtifact{
		exported: {MeetingURL: exported, ArtifactRefs: map[string]string{"transcript": "meetings/42/transcript.json"}},
	}}
	tests := []struct {
		name   string
		query  string
		index  *fakeIndex
		want   int
		exists bool
	}{
		{name: "exported", query: "?url=" + url.QueryEscape(exported), index: index, want: http.StatusOK, exists: true},
		{name: "unknown", query: "?url=" + url.QueryEscape("https://zoom.us/j/1"), index: index, want: http.StatusNotFound},
		{name: "missing url", query: "", index: index, want: http.StatusBadRequest},
		{name: "index down", query: "?url=" + url.QueryEscape(exported), index: &fakeIndex{err: errors.New("connection refused")}, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouterWithIndex(&fakeBotAPI{}, tt.index)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/meetings"+tt.query, nil))
			if w.Code != tt.want {
				t.Fatalf("status code = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want != http.StatusOK && tt.want != http.StatusNotFound {
				return
			}
			var resp dto.ArtifactLookupResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Exists != tt.exists {
				t.Fatalf("exists = %v, want %v", resp.Exists, tt.exists)
			}
			if tt.exists && (resp.Artifact == nil || resp.Artifact.ArtifactRefs["transcript"] != "meetings/42/transcript.json") {
				t.Fatalf("unexpected artifact %+v", resp.Artifact)
			}
		})
	}
}
