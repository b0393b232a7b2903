package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/fgeck/gohotbackup/internal/services/backup"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackupService struct {
	startFunc    func(ctx context.Context, destination string) (*models.StartResult, error)
	throttleFunc func(ctx context.Context, bytesPerSecond int64) error
	statusFunc   func(ctx context.Context) (models.Progress, error)
	killFunc     func(ctx context.Context, reason string) error
	versionFunc  func(ctx context.Context) (string, error)
}

func (m *mockBackupService) Start(ctx context.Context, destination string) (*models.StartResult, error) {
	if m.startFunc != nil {
		return m.startFunc(ctx, destination)
	}
	return &models.StartResult{OK: true, SessionID: "session-1", Destination: destination}, nil
}

func (m *mockBackupService) Throttle(ctx context.Context, bytesPerSecond int64) error {
	if m.throttleFunc != nil {
		return m.throttleFunc(ctx, bytesPerSecond)
	}
	return nil
}

func (m *mockBackupService) Status(ctx context.Context) (models.Progress, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx)
	}
	return models.Progress{}, backup.ErrNoBackupRunning
}

func (m *mockBackupService) Kill(ctx context.Context, reason string) error {
	if m.killFunc != nil {
		return m.killFunc(ctx, reason)
	}
	return nil
}

func (m *mockBackupService) Version(ctx context.Context) (string, error) {
	if m.versionFunc != nil {
		return m.versionFunc(ctx)
	}
	return "1.0.0", nil
}

func (m *mockBackupService) CheckEngine(ctx context.Context) (string, error) {
	return m.Version(ctx)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newRouter(svc backup.Service) http.Handler {
	return New(testLogger(), svc).Router(models.MetricsConfig{Enabled: true, Path: "/metrics"})
}

func serve(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	var decoded map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestStart_Success(t *testing.T) {
	var gotDestination string
	svc := &mockBackupService{
		startFunc: func(ctx context.Context, destination string) (*models.StartResult, error) {
			gotDestination = destination
			return &models.StartResult{OK: true, SessionID: "abc"}, nil
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodPost, PathStart, `{"destination":"/backup/today"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/backup/today", gotDestination)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "abc", body["sessionId"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "reason")
}

func TestStart_EngineError(t *testing.T) {
	svc := &mockBackupService{
		startFunc: func(ctx context.Context, destination string) (*models.StartResult, error) {
			return &models.StartResult{
				Error: &models.EngineError{Code: 28, Message: "No space left on device"},
			}, nil
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodPost, PathStart, `{"destination":"/backup"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "No space left on device", body["errmsg"])

	engineErr, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "No space left on device", engineErr["message"])
	assert.Equal(t, float64(28), engineErr["errno"])
	assert.Equal(t, "no space left on device", engineErr["strerror"])
}

func TestStart_Interrupted(t *testing.T) {
	svc := &mockBackupService{
		startFunc: func(ctx context.Context, destination string) (*models.StartResult, error) {
			return &models.StartResult{
				InterruptedReason: "operation was killed",
				Error:             &models.EngineError{Code: 125, Message: "User aborted backup"},
			}, nil
		},
	}

	_, body := serve(t, newRouter(svc), http.MethodPost, PathStart, `{"destination":"/backup"}`)

	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "operation was killed", body["reason"])
}

func TestStart_InvalidDestination(t *testing.T) {
	svc := &mockBackupService{
		startFunc: func(ctx context.Context, destination string) (*models.StartResult, error) {
			return nil, fmt.Errorf("%w: %q", backup.ErrInvalidDestination, destination)
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodPost, PathStart, `{"destination":""}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, `invalid destination directory: ""`, body["errmsg"])
}

func TestStart_MalformedBody(t *testing.T) {
	w, body := serve(t, newRouter(&mockBackupService{}), http.MethodPost, PathStart, `{"destination":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", body["errmsg"])
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBPS    int64
		wantErrMsg string
	}{
		{name: "integer", body: `{"bps": 1048576}`, wantStatus: http.StatusOK, wantBPS: 1048576},
		{name: "zero", body: `{"bps": 0}`, wantStatus: http.StatusOK, wantBPS: 0},
		{name: "float", body: `{"bps": 2048.9}`, wantStatus: http.StatusOK, wantBPS: 2048},
		{name: "kilobytes string", body: `{"bps": "512k"}`, wantStatus: http.StatusOK, wantBPS: 512 * 1024},
		{name: "megabytes string", body: `{"bps": "10m"}`, wantStatus: http.StatusOK, wantBPS: 10 << 20},
		{name: "gigabytes string", body: `{"bps": "1G"}`, wantStatus: http.StatusOK, wantBPS: 1 << 30},
		{name: "negative", body: `{"bps": -1}`, wantStatus: http.StatusBadRequest, wantBPS: -1, wantErrMsg: "throttle argument cannot be negative: -1"},
		{name: "boolean", body: `{"bps": true}`, wantStatus: http.StatusBadRequest, wantErrMsg: "throttle argument must be a number"},
		{name: "missing", body: `{}`, wantStatus: http.StatusBadRequest, wantErrMsg: "throttle argument must be a number"},
		{name: "bad string", body: `{"bps": "fast"}`, wantStatus: http.StatusBadRequest, wantErrMsg: "error parsing number fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var gotBPS int64
			svc := &mockBackupService{
				throttleFunc: func(ctx context.Context, bytesPerSecond int64) error {
					called = true
					gotBPS = bytesPerSecond
					if bytesPerSecond < 0 {
						return fmt.Errorf("%w: %d", backup.ErrNegativeThrottle, bytesPerSecond)
					}
					return nil
				},
			}

			w, body := serve(t, newRouter(svc), http.MethodPost, PathThrottle, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErrMsg != "" {
				assert.Equal(t, false, body["ok"])
				assert.Contains(t, body["errmsg"], tt.wantErrMsg)
			} else {
				assert.Equal(t, true, body["ok"])
			}
			if called {
				assert.Equal(t, tt.wantBPS, gotBPS)
			}
		})
	}
}

func TestStatus_NoBackupRunning(t *testing.T) {
	w, body := serve(t, newRouter(&mockBackupService{}), http.MethodGet, PathStatus, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "errmsg": "no backup running"}, body)
}

func TestStatus_DirectoryHeaderOnly(t *testing.T) {
	svc := &mockBackupService{
		statusFunc: func(ctx context.Context) (models.Progress, error) {
			return models.Progress{
				Fraction:   0.25,
				BytesDone:  0,
				FilesDone:  -1,
				FilesTotal: 3,
				Current:    &models.Transfer{Source: "/a"},
			}, nil
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodGet, PathStatus, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 25.0, body["percent"])
	assert.Equal(t, map[string]any{"done": float64(-1), "total": float64(3)}, body["files"])
	assert.Equal(t, map[string]any{"source": "/a"}, body["current"])
}

func TestStatus_FileTransfer(t *testing.T) {
	svc := &mockBackupService{
		statusFunc: func(ctx context.Context) (models.Progress, error) {
			return models.Progress{
				Fraction:   0.5,
				BytesDone:  100,
				FilesDone:  0,
				FilesTotal: 3,
				Current:    &models.Transfer{Source: "/a", Dest: "/b/a", BytesDone: 50, BytesTotal: 100},
			}, nil
		},
	}

	_, body := serve(t, newRouter(svc), http.MethodGet, PathStatus, "")

	assert.Equal(t, float64(100), body["bytesDone"])
	assert.Equal(t, map[string]any{
		"source": "/a",
		"dest":   "/b/a",
		"bytes":  map[string]any{"done": float64(50), "total": float64(100)},
	}, body["current"])
}

func TestStatus_NoCurrentFile(t *testing.T) {
	svc := &mockBackupService{
		statusFunc: func(ctx context.Context) (models.Progress, error) {
			return models.Progress{}, nil
		},
	}

	_, body := serve(t, newRouter(svc), http.MethodGet, PathStatus, "")

	assert.Equal(t, true, body["ok"])
	assert.NotContains(t, body, "current")
	assert.NotContains(t, body, "errmsg")
}

func TestKill(t *testing.T) {
	var gotReason string
	svc := &mockBackupService{
		killFunc: func(ctx context.Context, reason string) error {
			gotReason = reason
			return nil
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodPost, PathKill, `{"reason":"maintenance window"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "maintenance window", gotReason)
}

func TestKill_EmptyBody(t *testing.T) {
	var gotReason = "unset"
	svc := &mockBackupService{
		killFunc: func(ctx context.Context, reason string) error {
			gotReason = reason
			return nil
		},
	}

	w, _ := serve(t, newRouter(svc), http.MethodPost, PathKill, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gotReason)
}

func TestKill_NoBackupRunning(t *testing.T) {
	svc := &mockBackupService{
		killFunc: func(ctx context.Context, reason string) error {
			return backup.ErrNoBackupRunning
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodPost, PathKill, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no backup running", body["errmsg"])
}

func TestVersion(t *testing.T) {
	w, body := serve(t, newRouter(&mockBackupService{}), http.MethodGet, PathVersion, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0.0", body["version"])
}

func TestVersion_EngineUnavailable(t *testing.T) {
	svc := &mockBackupService{
		versionFunc: func(ctx context.Context) (string, error) {
			return "", errors.New("failed to get engine version: exec: not found")
		},
	}

	w, body := serve(t, newRouter(svc), http.MethodGet, PathVersion, "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["errmsg"], "exec: not found")
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	newRouter(&mockBackupService{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hotbackup_sessions_overlapping_total")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	h := New(testLogger(), &mockBackupService{}).Router(models.MetricsConfig{Enabled: false, Path: "/metrics"})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
