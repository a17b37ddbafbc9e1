package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/registry"
)

// Name is a tool name. The set of names is closed.
type Name string

// Tool names the model may select.
const (
	GetMissionsAndDefects Name = "GetMissionsAndDefects"
	LastMission           Name = "LastMission"
	ShowDefect            Name = "ShowDefect"
	ShowAllMissionImages  Name = "ShowAllMissionImages"
	SPOTS                 Name = "SPOTS"
	SPOTStatus            Name = "SPOTStatus"
	MissionStatistics     Name = "MissionStatistics"
	NotAbleToParse        Name = "NotAbleToParse"
)

// Names lists every known tool name.
var Names = []Name{
	GetMissionsAndDefects,
	LastMission,
	ShowDefect,
	ShowAllMissionImages,
	SPOTS,
	SPOTStatus,
	MissionStatistics,
	NotAbleToParse,
}

// NoContextAnswer is the reply for questions no tool can answer.
const NoContextAnswer = "I cannot answer your question as I dont have the context"

// ParseName maps s to a known tool name.
func ParseName(s string) (Name, bool) {
	n := Name(strings.TrimSpace(s))
	return n, slices.Contains(Names, n)
}

var (
	// ErrUnknownTool is returned for a name outside the closed set or not
	// registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when arguments fail the tool's schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Spec declares a tool: its name, the description used for selection and
// its argument schema.
type Spec struct {
	Name   Name
	Desc   string
	Params map[string]*schema.ParameterInfo
}

// Info returns the eino tool description.
func (s Spec) Info() *schema.ToolInfo {
	info := &schema.ToolInfo{Name: string(s.Name), Desc: s.Desc}
	if len(s.Params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(s.Params)
	}
	return info
}

// Validate checks args against the schema and returns a copy with numeric
// strings converted for integer and number parameters. Unknown keys are
// dropped.
func (s Spec) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Params))
	for _, key := range sortedKeys(s.Params) {
		p := s.Params[key]
		v, ok := args[key]
		if !ok || v == nil || v == "" {
			if p.Required {
				return nil, fmt.Errorf("%w: %s: %s is required", ErrInvalidArguments, s.Name, key)
			}
			continue
		}
		cv, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrInvalidArguments, s.Name, key, err)
		}
		out[key] = cv
	}
	return out, nil
}

func coerce(t schema.DataType, v any) (any, error) {
	switch t {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return s, nil
	case schema.Integer:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("want integer, got %v", n)
			}
			// float64(math.MaxInt64) rounds up to 2^63.
			if n < math.MinInt64 || n >= math.MaxInt64 {
				return nil, fmt.Errorf("integer %v out of range", n)
			}
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("want integer, got %q", n)
			}
			return i, nil
		}
		return nil, fmt.Errorf("want integer, got %T", v)
	case schema.Number:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("want number, got %q", n)
			}
			return f, nil
		}
		return nil, fmt.Errorf("want number, got %T", v)
	case schema.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want boolean, got %T", v)
		}
		return b, nil
	default:
		return v, nil
	}
}

func sortedKeys(m map[string]*schema.ParameterInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Call is a model's tool selection.
type Call struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type entry struct {
	spec Spec
	tool tool.InvokableTool
}

// Registry maps the closed set of tool names to their schema and handler.
type Registry struct {
	entries *registry.Registry[Name, entry]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: registry.New[Name, entry]()}
}

// Register adds a prebuilt tool under spec. The name must be one of Names
// and must not already be registered.
func (r *Registry) Register(spec Spec, t tool.InvokableTool) error {
	if _, ok := ParseName(string(spec.Name)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, spec.Name)
	}
	if t == nil {
		return fmt.Errorf("tool %s: handler is required", spec.Name)
	}
	return r.entries.Add(spec.Name, entry{spec: spec, tool: t})
}

// Add registers fn as the handler for spec. The validated arguments are
// decoded into T and D is returned to the model as JSON.
func Add[T, D any](r *Registry, spec Spec, fn func(context.Context, T) (D, error)) error {
	return r.Register(spec, utils.NewTool(spec.Info(), fn))
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []Spec {
	entries := r.entries.Values()
	out := make([]Spec, len(entries))
	for i, e := range entries {
		out[i] = e.spec
	}
	return out
}

// Infos returns the eino descriptions of the registered tools.
func (r *Registry) Infos() []*schema.ToolInfo {
	specs := r.Specs()
	out := make([]*schema.ToolInfo, len(specs))
	for i, s := range specs {
		out[i] = s.Info()
	}
	return out
}

// Describe renders the registered tools for a selection prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, s := range r.Specs() {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Desc)
		for _, key := range sortedKeys(s.Params) {
			p := s.Params[key]
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", key, p.Type, req, p.Desc)
		}
	}
	return b.String()
}

// Dispatch validates call and runs the selected tool. Names outside the
// closed set or not registered fail with ErrUnknownTool.
func (r *Registry) Dispatch(ctx context.Context, call Call) (string, error) {
	name, ok := ParseName(call.Tool)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Tool)
	}
	e, ok := r.entries.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q is not registered", ErrUnknownTool, name)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(string(call.Arguments)); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
	}
	valid, err := e.spec.Validate(args)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(valid)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	return e.tool.InvokableRun(ctx, string(encoded))
}
