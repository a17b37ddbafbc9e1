package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/insightgraph/pkg/aqi"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
)

// InspectionAPI is the part of the inspection REST API the tools use.
// *aqi.Client implements it.
type InspectionAPI interface {
	Assets(ctx context.Context) ([]aqi.Asset, error)
	LastMission(ctx context.Context) (aqi.Mission, error)
	DefectImage(ctx context.Context, missionID, filePath string) (*aqi.AnnotatedImage, error)
	MissionImages(ctx context.Context, missionID string) ([]aqi.AnnotatedImage, error)
	MissionStatistics(ctx context.Context, from, to time.Time) (aqi.Statistics, error)
}

// MissionSearch answers a natural-language question against the missions
// collection.
type MissionSearch func(ctx context.Context, question string) ([]dataaccess.Record, error)

// QueryInput is the argument of GetMissionsAndDefects.
type QueryInput struct {
	Query string `json:"query"`
}

// MissionInput names a mission.
type MissionInput struct {
	MissionID string `json:"missionId"`
}

// DefectInput names one image of a mission.
type DefectInput struct {
	MissionID string `json:"missionId"`
	FilePath  string `json:"filePath"`
}

// StatisticsInput is a statistics window: either both dates or a duration.
type StatisticsInput struct {
	FromDate        string `json:"fromDate,omitempty"`
	ToDate          string `json:"toDate,omitempty"`
	DurationInHours int64  `json:"durationInHours,omitempty"`
}

// Empty is the argument of tools that take none.
type Empty struct{}

// SpotList is the SPOTS result.
type SpotList struct {
	Count int         `json:"count"`
	Spots []aqi.Asset `json:"spots"`
}

// SpotStatus is the SPOTStatus result.
type SpotStatus struct {
	Name         string  `json:"spot_name"`
	Status       string  `json:"spot_status"`
	BatteryLevel float64 `json:"spot_battery_level"`
}

// ErrNoSpots is returned by SPOTStatus when no robot is registered.
var ErrNoSpots = errors.New("no spot robots registered")

// Specs of the inspection tools.
var (
	GetMissionsAndDefectsSpec = Spec{
		Name: GetMissionsAndDefects,
		Desc: "Search missions and their defects, vehicles and inspection results with a natural-language query. Use for any question about what missions found.",
		Params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "The user's question, restated as a standalone query.", Required: true},
		},
	}
	LastMissionSpec = Spec{
		Name: LastMission,
		Desc: "Get the most recent mission.",
	}
	ShowDefectSpec = Spec{
		Name: ShowDefect,
		Desc: "Show one annotated defect image of a mission with its detected defects.",
		Params: map[string]*schema.ParameterInfo{
			"missionId": {Type: schema.String, Desc: "Mission ID.", Required: true},
			"filePath":  {Type: schema.String, Desc: "Image file path or name.", Required: true},
		},
	}
	ShowAllMissionImagesSpec = Spec{
		Name: ShowAllMissionImages,
		Desc: "Show all annotated images of a mission.",
		Params: map[string]*schema.ParameterInfo{
			"missionId": {Type: schema.String, Desc: "Mission ID.", Required: true},
		},
	}
	SPOTSSpec = Spec{
		Name: SPOTS,
		Desc: "List the spot robots along with their count and battery information.",
	}
	SPOTStatusSpec = Spec{
		Name: SPOTStatus,
		Desc: "Get the name, status and battery level of the spot robot.",
	}
	MissionStatisticsSpec = Spec{
		Name: MissionStatistics,
		Desc: "Get mission statistics for a date range (fromDate and toDate as YYYY-MM-DD) or for the last durationInHours hours.",
		Params: map[string]*schema.ParameterInfo{
			"fromDate":        {Type: schema.String, Desc: "Start date, YYYY-MM-DD."},
			"toDate":          {Type: schema.String, Desc: "End date, YYYY-MM-DD, inclusive."},
			"durationInHours": {Type: schema.Integer, Desc: "Window length in hours ending now."},
		},
	}
	NotAbleToParseSpec = Spec{
		Name: NotAbleToParse,
		Desc: "Use when no other tool can answer the question.",
	}
)

// Inspection builds the tool handlers over the inspection API and the
// mission search.
type Inspection struct {
	api    InspectionAPI
	search MissionSearch
	clock  clockwork.Clock
}

// NewInspection creates the inspection tool handlers. A nil clock uses the
// real clock.
func NewInspection(api InspectionAPI, search MissionSearch, clock clockwork.Clock) *Inspection {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Inspection{api: api, search: search, clock: clock}
}

// Registry returns a registry holding every inspection tool.
func (in *Inspection) Registry() (*Registry, error) {
	r := NewRegistry()
	errs := []error{
		Add(r, GetMissionsAndDefectsSpec, in.missionsAndDefects),
		Add(r, LastMissionSpec, in.lastMission),
		Add(r, ShowDefectSpec, in.showDefect),
		Add(r, ShowAllMissionImagesSpec, in.showAllMissionImages),
		Add(r, SPOTSSpec, in.spots),
		Add(r, SPOTStatusSpec, in.spotStatus),
		Add(r, MissionStatisticsSpec, in.missionStatistics),
		Add(r, NotAbleToParseSpec, notAbleToParse),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (in *Inspection) missionsAndDefects(ctx context.Context, q *QueryInput) ([]dataaccess.Record, error) {
	if in.search == nil {
		return nil, errors.New("mission search is not configured")
	}
	return in.search(ctx, q.Query)
}

func (in *Inspection) lastMission(ctx context.Context, _ *Empty) (aqi.Mission, error) {
	return in.api.LastMission(ctx)
}

func (in *Inspection) showDefect(ctx context.Context, d *DefectInput) (*aqi.AnnotatedImage, error) {
	return in.api.DefectImage(ctx, d.MissionID, d.FilePath)
}

func (in *Inspection) showAllMissionImages(ctx context.Context, m *MissionInput) ([]aqi.AnnotatedImage, error) {
	return in.api.MissionImages(ctx, m.MissionID)
}

func (in *Inspection) spots(ctx context.Context, _ *Empty) (*SpotList, error) {
	assets, err := in.api.Assets(ctx)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = []aqi.Asset{}
	}
	return &SpotList{Count: len(assets), Spots: assets}, nil
}

func (in *Inspection) spotStatus(ctx context.Context, _ *Empty) (*SpotStatus, error) {
	assets, err := in.api.Assets(ctx)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrNoSpots
	}
	a := assets[0]
	return &SpotStatus{Name: a.AssetName, Status: a.Status, BatteryLevel: a.BatteryLevel}, nil
}

func (in *Inspection) missionStatistics(ctx context.Context, s *StatisticsInput) (aqi.Statistics, error) {
	from, to, err := in.statisticsWindow(s)
	if err != nil {
		return nil, err
	}
	return in.api.MissionStatistics(ctx, from, to)
}

// statisticsWindow resolves the input to a time range. A duration wins over
// dates. toDate covers its whole day.
func (in *Inspection) statisticsWindow(s *StatisticsInput) (time.Time, time.Time, error) {
	if s.DurationInHours < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: durationInHours must be positive", ErrInvalidArguments)
	}
	if s.DurationInHours > 0 {
		to := in.clock.Now().UTC()
		return to.Add(-time.Duration(s.DurationInHours) * time.Hour), to, nil
	}
	if s.FromDate == "" || s.ToDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: give fromDate and toDate or durationInHours", ErrInvalidArguments)
	}
	from, err := parseDay(s.FromDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDay(s.ToDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to = to.Add(24*time.Hour - time.Second)
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: fromDate %s is after toDate %s", ErrInvalidArguments, s.FromDate, s.ToDate)
	}
	return from, to, nil
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: want YYYY-MM-DD", ErrInvalidArguments, s)
	}
	return t, nil
}

func notAbleToParse(context.Context, *Empty) (string, error) {
	return NoContextAnswer, nil
}
