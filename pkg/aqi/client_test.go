package aqi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/insightgraph/pkg/aqi"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, opts ...aqi.Option) *aqi.Client {
	t.Helper()
	opts = append([]aqi.Option{aqi.WithRetry(fgerrors.NoRetry)}, opts...)
	c, err := aqi.New(srv.URL+"/api/", "secret", opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"ftp://host", "://bad", "localhost:8080"} {
		_, err := aqi.New(u, "k")
		assert.Error(t, err, u)
	}
}

func TestAssets(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/assets", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(aqi.SubscriptionHeader))
		writeJSON(w, []map[string]any{
			{"_id": "a1", "assetName": "Spot-1", "status": "Docked", "batteryLevel": 87.5, "firmware": "x"},
		})
	})

	assets, err := newClient(t, srv).Assets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []aqi.Asset{{ID: "a1", AssetName: "Spot-1", Status: "Docked", BatteryLevel: 87.5}}, assets)
}

func TestLastMission_DropsAudits(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/missions/lastMission", r.URL.Path)
		writeJSON(w, map[string]any{"missionPlanName": "Car 12", "audits": []string{"x"}})
	})

	m, err := newClient(t, srv).LastMission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, aqi.Mission{"missionPlanName": "Car 12"}, m)
}

func TestMissions(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/missions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("from"))
		assert.Equal(t, "2024-01-31T00:00:00Z", q.Get("to"))
		assert.Equal(t, "100", q.Get("limit"))
		writeJSON(w, map[string]any{"missions": []map[string]any{{"status": "Failed", "audits": 1}}})
	})

	page, err := newClient(t, srv).Missions(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, []aqi.Mission{{"status": "Failed"}}, page.Missions)
}

func TestMissionStatistics_Windows(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var gotFrom, gotTo string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/missionStatistics", r.URL.Path)
		gotFrom, gotTo = r.URL.Query().Get("from"), r.URL.Query().Get("to")
		writeJSON(w, map[string]any{"completed": 4})
	})
	c := newClient(t, srv, aqi.WithClock(clockwork.NewFakeClockAt(now)))

	stats, err := c.MissionStatisticsSince(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, aqi.Statistics{"completed": float64(4)}, stats)
	assert.Equal(t, "2024-05-31T12:00:00Z", gotFrom)
	assert.Equal(t, "2024-06-01T12:00:00Z", gotTo)

	tests := []struct {
		name     string
		from, to time.Time
	}{
		{"missing from", time.Time{}, now},
		{"reversed", now, now.Add(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.MissionStatistics(context.Background(), tt.from, tt.to)
			assert.ErrorIs(t, err, aqi.ErrInvalidWindow)
		})
	}

	_, err = c.MissionStatisticsSince(context.Background(), 0)
	assert.ErrorIs(t, err, aqi.ErrInvalidWindow)
}

func TestDefectImage(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/missions/m-1/annotatedImages/img 7.jpg", r.URL.Path)
		writeJSON(w, map[string]any{
			"filePath":       "img 7.jpg",
			"url":            "https://blob/img7",
			"schema_version": 3,
			"boundingBoxes":  []map[string]any{{"label": "scratch", "confidence": 0.91, "x": 1, "y": 2, "width": 3, "height": 4}},
		})
	})

	img, err := newClient(t, srv).DefectImage(context.Background(), "m-1", "/uploads/2024/img 7.jpg")
	require.NoError(t, err)
	assert.Equal(t, &aqi.AnnotatedImage{
		FilePath:      "img 7.jpg",
		URL:           "https://blob/img7",
		BoundingBoxes: []aqi.BoundingBox{{Label: "scratch", Confidence: 0.91}},
	}, img)

	out, err := json.Marshal(img)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "width")
}

func TestPathSegmentsValidated(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	c := newClient(t, srv)

	_, err := c.MissionImages(context.Background(), "../admin")
	assert.ErrorIs(t, err, aqi.ErrInvalidSegment)
	_, err = c.DefectImage(context.Background(), "m?x=1", "a.jpg")
	assert.ErrorIs(t, err, aqi.ErrInvalidSegment)
	_, err = c.DefectImage(context.Background(), "m", "..")
	assert.ErrorIs(t, err, aqi.ErrInvalidSegment)
	_, err = c.MissionImages(context.Background(), "")
	assert.ErrorIs(t, err, aqi.ErrInvalidSegment)
	assert.Zero(t, calls.Load())
}

func TestMissionImages(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/missions/m-2/annotatedImages", r.URL.Path)
		writeJSON(w, []map[string]any{{"filePath": "a.jpg", "boundingBoxes": []any{}}})
	})

	imgs, err := newClient(t, srv).MissionImages(context.Background(), "m-2")
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "a.jpg", imgs[0].FilePath)
}

func TestHTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		wantMsg   string
	}{
		{"not found", http.StatusNotFound, "no such mission", false, "no such mission"},
		{"unauthorized empty body", http.StatusUnauthorized, "", false, "Unauthorized"},
		{"unavailable", http.StatusServiceUnavailable, "busy", true, "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := newClient(t, srv).Assets(context.Background())
			var httpErr *fgerrors.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.wantMsg, httpErr.Message)
			assert.Equal(t, "assets", httpErr.Endpoint)
			assert.Equal(t, tt.retryable, fgerrors.IsRetryable(err))
			assert.Equal(t, fgerrors.MsgUpstreamDown, fgerrors.UserMessage(err))
		})
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, []map[string]any{})
	})
	retry := fgerrors.NewRetryConfig(
		fgerrors.WithMaxAttempts(3),
		fgerrors.WithInitialBackoff(time.Millisecond),
		fgerrors.WithJitter(0),
	)

	_, err := newClient(t, srv, aqi.WithRetry(retry)).Assets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryAfterHeader(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "absent", want: 0},
		{name: "seconds", header: "7", want: 7 * time.Second},
		{name: "http date", header: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "past date", header: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", header: "soon", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := newClient(t, srv, aqi.WithClock(clockwork.NewFakeClockAt(now))).Assets(context.Background())
			var httpErr *fgerrors.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.want, httpErr.RetryAfter)
		})
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, []map[string]any{})
	})
	clock := clockwork.NewFakeClock()
	retry := fgerrors.NewRetryConfig(
		fgerrors.WithMaxAttempts(2),
		fgerrors.WithInitialBackoff(time.Millisecond),
		fgerrors.WithJitter(0),
	)
	c := newClient(t, srv, aqi.WithRetry(retry), aqi.WithClock(clock))

	done := make(chan error, 1)
	go func() {
		_, err := c.Assets(context.Background())
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	select {
	case err := <-done:
		t.Fatalf("returned before the requested delay: %v", err)
	default:
	}
	clock.Advance(2 * time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	retry := fgerrors.NewRetryConfig(fgerrors.WithMaxAttempts(3), fgerrors.WithInitialBackoff(time.Millisecond))

	_, err := newClient(t, srv, aqi.WithRetry(retry)).Assets(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDecodeError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	_, err := newClient(t, srv).Assets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode assets")
}
