package aqi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Asset is a spot robot.
type Asset struct {
	ID           string  `json:"_id,omitempty"`
	AssetName    string  `json:"assetName"`
	Status       string  `json:"status"`
	BatteryLevel float64 `json:"batteryLevel"`
}

// BoundingBox is a detected defect. Box coordinates are not kept.
type BoundingBox struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// AnnotatedImage is a mission image with its detections.
type AnnotatedImage struct {
	FilePath      string        `json:"filePath"`
	URL           string        `json:"url,omitempty"`
	ImageStatus   string        `json:"imageStatus,omitempty"`
	BoundingBoxes []BoundingBox `json:"boundingBoxes"`
}

// Mission is a mission document as returned by the API, without audits.
type Mission map[string]any

// MissionPage is one page of missions.
type MissionPage struct {
	Missions []Mission `json:"missions"`
	Total    int       `json:"total,omitempty"`
}

// Statistics is the mission statistics document for a time window.
type Statistics map[string]any

// ErrInvalidWindow reports a statistics window without both bounds or
// with from after to.
var ErrInvalidWindow = errors.New("invalid time window")

// ErrInvalidSegment reports a mission ID or file name that is empty or
// would change the request path.
var ErrInvalidSegment = errors.New("invalid path segment")

// timeLayout is the timestamp format the API accepts in query strings.
const timeLayout = "2006-01-02T15:04:05Z"

// Assets lists the spot robots.
func (c *Client) Assets(ctx context.Context) ([]Asset, error) {
	var out []Asset
	if err := c.getJSON(ctx, "assets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastMission returns the most recent mission.
func (c *Client) LastMission(ctx context.Context) (Mission, error) {
	var out Mission
	if err := c.getJSON(ctx, "missions/lastMission", nil, &out); err != nil {
		return nil, err
	}
	delete(out, "audits")
	return out, nil
}

// Missions lists up to 100 missions scheduled in [from, to].
func (c *Client) Missions(ctx context.Context, from, to time.Time) (*MissionPage, error) {
	q, err := window(from, to)
	if err != nil {
		return nil, err
	}
	q.Set("skip", "0")
	q.Set("limit", strconv.Itoa(100))

	var out MissionPage
	if err := c.getJSON(ctx, "missions", q, &out); err != nil {
		return nil, err
	}
	for _, m := range out.Missions {
		delete(m, "audits")
	}
	return &out, nil
}

// MissionStatistics returns statistics for missions in [from, to].
func (c *Client) MissionStatistics(ctx context.Context, from, to time.Time) (Statistics, error) {
	q, err := window(from, to)
	if err != nil {
		return nil, err
	}
	var out Statistics
	if err := c.getJSON(ctx, "missionStatistics", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MissionStatisticsSince returns statistics for the last d.
func (c *Client) MissionStatisticsSince(ctx context.Context, d time.Duration) (Statistics, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidWindow)
	}
	to := c.clock.Now()
	return c.MissionStatistics(ctx, to.Add(-d), to)
}

// DefectImage returns one annotated image of a mission. Only the base name
// of filePath is used.
func (c *Client) DefectImage(ctx context.Context, missionID, filePath string) (*AnnotatedImage, error) {
	if missionID == "" || filePath == "" {
		return nil, fmt.Errorf("aqi: %w: mission ID and file path are required", ErrInvalidSegment)
	}
	name := path.Base(filePath)
	if err := checkSegment(missionID); err != nil {
		return nil, err
	}
	if err := checkSegment(name); err != nil {
		return nil, err
	}
	var out AnnotatedImage
	p := path.Join("missions", missionID, "annotatedImages", name)
	if err := c.getJSON(ctx, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MissionImages returns all annotated images of a mission.
func (c *Client) MissionImages(ctx context.Context, missionID string) ([]AnnotatedImage, error) {
	if missionID == "" {
		return nil, fmt.Errorf("aqi: %w: mission ID is required", ErrInvalidSegment)
	}
	if err := checkSegment(missionID); err != nil {
		return nil, err
	}
	var out []AnnotatedImage
	if err := c.getJSON(ctx, path.Join("missions", missionID, "annotatedImages"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkSegment rejects values that would change the request path.
func checkSegment(s string) error {
	if s == "." || s == ".." || strings.ContainsAny(s, "/\\?#") {
		return fmt.Errorf("aqi: %w %q", ErrInvalidSegment, s)
	}
	return nil
}

func window(from, to time.Time) (url.Values, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: from and to are required", ErrInvalidWindow)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	q := url.Values{}
	q.Set("from", from.UTC().Format(timeLayout))
	q.Set("to", to.UTC().Format(timeLayout))
	return q, nil
}
