package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/insightgraph/pkg/aqi"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/tools"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type window struct{ from, to time.Time }

type fakeAPI struct {
	assets   []aqi.Asset
	mission  aqi.Mission
	images   []aqi.AnnotatedImage
	stats    aqi.Statistics
	err      error
	windows  []window
	defectOf [2]string
}

func (f *fakeAPI) Assets(context.Context) ([]aqi.Asset, error) { return f.assets, f.err }

func (f *fakeAPI) LastMission(context.Context) (aqi.Mission, error) { return f.mission, f.err }

func (f *fakeAPI) DefectImage(_ context.Context, missionID, filePath string) (*aqi.AnnotatedImage, error) {
	f.defectOf = [2]string{missionID, filePath}
	if f.err != nil {
		return nil, f.err
	}
	return &f.images[0], nil
}

func (f *fakeAPI) MissionImages(context.Context, string) ([]aqi.AnnotatedImage, error) {
	return f.images, f.err
}

func (f *fakeAPI) MissionStatistics(_ context.Context, from, to time.Time) (aqi.Statistics, error) {
	f.windows = append(f.windows, window{from, to})
	return f.stats, f.err
}

func newInspection(t *testing.T, api *fakeAPI, search tools.MissionSearch) *tools.Registry {
	t.Helper()
	r, err := tools.NewInspection(api, search, clockwork.NewFakeClockAt(now)).Registry()
	require.NoError(t, err)
	return r
}

func dispatch(t *testing.T, r *tools.Registry, name tools.Name, args string) (string, error) {
	t.Helper()
	return r.Dispatch(context.Background(), tools.Call{Tool: string(name), Arguments: json.RawMessage(args)})
}

func TestInspection_RegistersEveryTool(t *testing.T) {
	r := newInspection(t, &fakeAPI{}, nil)

	var names []tools.Name
	for _, s := range r.Specs() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, tools.Names, names)
}

func TestGetMissionsAndDefects(t *testing.T) {
	var asked string
	search := func(_ context.Context, q string) ([]dataaccess.Record, error) {
		asked = q
		return []dataaccess.Record{{"missionPlanName": "Car 12", "defects": 3.0}}, nil
	}
	r := newInspection(t, &fakeAPI{}, search)

	out, err := dispatch(t, r, tools.GetMissionsAndDefects, `{"query": "defects on car 12"}`)
	require.NoError(t, err)
	assert.Equal(t, "defects on car 12", asked)
	assert.JSONEq(t, `[{"missionPlanName": "Car 12", "defects": 3}]`, out)

	_, err = dispatch(t, r, tools.GetMissionsAndDefects, `{}`)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)
}

func TestSpots(t *testing.T) {
	api := &fakeAPI{assets: []aqi.Asset{
		{AssetName: "Spot-1", Status: "Docked", BatteryLevel: 87},
		{AssetName: "Spot-2", Status: "Mission", BatteryLevel: 40},
	}}
	r := newInspection(t, api, nil)

	out, err := dispatch(t, r, tools.SPOTS, "")
	require.NoError(t, err)
	var list tools.SpotList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, 2, list.Count)

	out, err = dispatch(t, r, tools.SPOTStatus, "{}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"spot_name": "Spot-1", "spot_status": "Docked", "spot_battery_level": 87}`, out)

	_, err = dispatch(t, newInspection(t, &fakeAPI{}, nil), tools.SPOTStatus, "{}")
	assert.ErrorIs(t, err, tools.ErrNoSpots)
}

func TestShowDefect(t *testing.T) {
	api := &fakeAPI{images: []aqi.AnnotatedImage{{FilePath: "a.jpg", BoundingBoxes: []aqi.BoundingBox{{Label: "dent", Confidence: 0.8}}}}}
	r := newInspection(t, api, nil)

	out, err := dispatch(t, r, tools.ShowDefect, `{"missionId": "m-1", "filePath": "/x/a.jpg"}`)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"m-1", "/x/a.jpg"}, api.defectOf)
	assert.Contains(t, out, `"dent"`)

	_, err = dispatch(t, r, tools.ShowDefect, `{"missionId": "m-1"}`)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)
}

func TestMissionStatistics(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		from, to time.Time
		wantErr  bool
	}{
		{
			name: "dates",
			args: `{"fromDate": "2024-05-01", "toDate": "2024-05-31"}`,
			from: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 5, 31, 23, 59, 59, 0, time.UTC),
		},
		{
			name: "timestamps truncated to days",
			args: `{"fromDate": "2024-05-01T08:00:00Z", "toDate": "2024-05-01"}`,
			from: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC),
		},
		{
			name: "duration",
			args: `{"durationInHours": 48}`,
			from: now.Add(-48 * time.Hour),
			to:   now,
		},
		{
			name: "duration as string",
			args: `{"durationInHours": "24", "fromDate": "2020-01-01"}`,
			from: now.Add(-24 * time.Hour),
			to:   now,
		},
		{name: "missing toDate", args: `{"fromDate": "2024-05-01"}`, wantErr: true},
		{name: "reversed", args: `{"fromDate": "2024-05-02", "toDate": "2024-05-01"}`, wantErr: true},
		{name: "bad date", args: `{"fromDate": "May 1", "toDate": "2024-05-01"}`, wantErr: true},
		{name: "negative duration", args: `{"durationInHours": -1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{stats: aqi.Statistics{"completed": 3.0}}
			r := newInspection(t, api, nil)

			out, err := dispatch(t, r, tools.MissionStatistics, tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, tools.ErrInvalidArguments)
				assert.Empty(t, api.windows)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `{"completed": 3}`, out)
			require.Len(t, api.windows, 1)
			assert.Equal(t, tt.from, api.windows[0].from)
			assert.Equal(t, tt.to, api.windows[0].to)
		})
	}
}

func TestNotAbleToParse(t *testing.T) {
	r := newInspection(t, &fakeAPI{}, nil)

	out, err := dispatch(t, r, tools.NotAbleToParse, "")
	require.NoError(t, err)
	// String results pass through unquoted.
	assert.Equal(t, tools.NoContextAnswer, out)
}

func TestUpstreamErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	r := newInspection(t, &fakeAPI{err: boom}, nil)

	_, err := dispatch(t, r, tools.LastMission, "")
	assert.ErrorIs(t, err, boom)
}
