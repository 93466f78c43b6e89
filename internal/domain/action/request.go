package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is an action-execution request handed to an external executor.
// Config is the transition's action configuration, carried verbatim.
type Request struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	Config        map[string]interface{} `json:"config"`
	TenantID      string                 `json:"tenant_id"`
	InstanceID    string                 `json:"instance_id"`
	TransitionID  string                 `json:"transition_id"`
	CreatedAt     time.Time              `json:"created_at"`
	DeferredToken *DeferredToken         `json:"deferred_token,omitempty"`
}

// DeferredToken tells an external scheduler when to re-evaluate a wait action
type DeferredToken struct {
	Token     string    `json:"token"`
	ResumeAt  time.Time `json:"resume_at"`
	Condition string    `json:"condition,omitempty"`
}

// NewRequest creates a request with a generated ID. Wait requests get a
// deferred token computed from the "duration" and "condition" config keys.
func NewRequest(actionType Type, config map[string]interface{}, tenantID, instanceID, transitionID string, now time.Time) (*Request, error) {
	if !actionType.IsValid() {
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}

	r := &Request{
		ID:           uuid.NewString(),
		Type:         actionType,
		Config:       config,
		TenantID:     tenantID,
		InstanceID:   instanceID,
		TransitionID: transitionID,
		CreatedAt:    now,
	}

	if actionType == TypeWait {
		d, err := WaitDuration(config)
		if err != nil {
			return nil, err
		}
		r.DeferredToken = &DeferredToken{
			Token:     uuid.NewString(),
			ResumeAt:  now.Add(d),
			Condition: r.GetConfigString("condition"),
		}
	}

	return r, nil
}

// WaitDuration reads config["duration"] as a Go duration string ("90m") or a
// number of seconds. A missing duration means resume immediately.
func WaitDuration(config map[string]interface{}) (time.Duration, error) {
	raw, ok := config["duration"]
	if !ok || raw == nil {
		return 0, nil
	}

	var d time.Duration
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			d = time.Duration(secs * float64(time.Second))
			break
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid wait duration %q: %w", v, err)
		}
		d = parsed
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return 0, fmt.Errorf("invalid wait duration type %T", raw)
	}

	if d < 0 {
		return 0, fmt.Errorf("wait duration must not be negative, got %s", d)
	}
	return d, nil
}

// IsDeferred reports whether the request carries a re-evaluation token
func (r *Request) IsDeferred() bool {
	return r.DeferredToken != nil
}

// GetConfigString retrieves a string value from the config
func (r *Request) GetConfigString(key string) string {
	if val, ok := r.Config[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetConfigInt retrieves an int64 value from the config
func (r *Request) GetConfigInt(key string) int64 {
	if val, ok := r.Config[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
