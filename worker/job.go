package worker

import (
	"fmt"
	"sync/atomic"
	"time"
)

var lastJobID atomic.Int64

// Params carries the heterogeneous parameters of one job, keyed by name.
type Params map[string]any

// Job is one unit of work for the background worker. It is not modified
// after NewJob returns.
type Job struct {
	ActionID string
	ID       int64
	Params   Params
}

// NewJob creates a job for the given action with the next process-wide id.
func NewJob(actionID string, params Params) *Job {
	if params == nil {
		params = Params{}
	}
	return &Job{
		ActionID: actionID,
		ID:       lastJobID.Add(1),
		Params:   params,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d (%s)", j.ID, j.ActionID)
}

// String returns a string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q is %T, want string", key, v)
	}
	return s, nil
}

// Strings returns a list parameter, such as a tool command line.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", key)
	}
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q[%d] is %T, want string", key, i, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q is %T, want []string", key, v)
	}
}

// Int64 returns an integer parameter. Missing keys yield def.
func (p Params) Int64(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return def, fmt.Errorf("parameter %q is %T, want integer", key, v)
	}
}

// Duration returns a duration parameter. Missing keys yield def.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	default:
		return def, fmt.Errorf("parameter %q is %T, want duration", key, v)
	}
}

// Bool returns a boolean parameter. Missing keys yield def.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, fmt.Errorf("parameter %q is %T, want bool", key, v)
	}
	return b, nil
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}
