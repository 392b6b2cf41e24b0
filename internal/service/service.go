// Package service provides the business logic of the dashboard sync API
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/sentinelmarket/sentinel-sync/internal/status"
)

var (
	// ErrSessionNotFound is returned when a session ID is unknown or expired
	ErrSessionNotFound = errors.New("session not found")
	// ErrViewNotFound is returned when a view ID is not in the registry
	ErrViewNotFound = errors.New("view not found")
	// ErrNotificationNotFound is returned when dismissing an unknown notification
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrInvalidPipelineName is returned for pipeline names that cannot be used in a URL path
	ErrInvalidPipelineName = errors.New("invalid pipeline name")
	// ErrServiceClosed is returned once the service has been closed
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidOption is returned when an operation option is out of range
	ErrInvalidOption = errors.New("invalid option")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go DashboardService

// DashboardService defines the operations the HTTP API and the CLI use
type DashboardService interface {
	// CheckReadiness checks if the service is ready to serve requests
	CheckReadiness(ctx context.Context) error

	// ListViews returns every registered view
	ListViews(ctx context.Context) []ViewInfo

	// Mount creates a session for a view. The session starts from seed data
	// and an initial refresh is started in the background.
	Mount(ctx context.Context, viewID string, opts ...Option[MountOptions]) (*Session, error)

	// Session returns the current state of a session
	Session(ctx context.Context, sessionID string) (*Session, error)

	// Unmount stops a session and discards its state
	Unmount(ctx context.Context, sessionID string) error

	// Refresh runs a refresh cycle now. It returns an error wrapping
	// view.ErrCycleInFlight when a cycle is already running.
	Refresh(ctx context.Context, sessionID string) (*Session, error)

	// SetPolling enables or disables periodic refresh of a session
	SetPolling(ctx context.Context, sessionID string, opts ...Option[PollingOptions]) (*Session, error)

	// Dismiss removes a notification from a session
	Dismiss(ctx context.Context, sessionID, notificationID string) error

	// RunPipeline asks the backend to run a pipeline and refreshes the
	// sessions showing pipeline data
	RunPipeline(ctx context.Context, name string) (json.RawMessage, error)

	// Upstream queries the SentinelMarket API once and reports its version
	Upstream(ctx context.Context) UpstreamStatus

	// Close unmounts every session
	Close() error
}

// UpstreamStatus describes the reachability of the backend API. An
// unreachable backend is not an error: views keep serving seed data.
type UpstreamStatus struct {
	BaseURL    string `json:"baseURL"`
	Reachable  bool   `json:"reachable"`
	Version    string `json:"version,omitempty"`
	MinVersion string `json:"minVersion,omitempty"`
	Supported  bool   `json:"supported"`
	Error      string `json:"error,omitempty"`
}

// SourceInfo describes one source of a view
type SourceInfo struct {
	ID       string `json:"id"`
	Required bool   `json:"required"`
}

// ParamInfo describes a value supplied when mounting a view
type ParamInfo struct {
	Name     string `json:"name"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required"`
}

// ViewInfo describes a registered view
type ViewInfo struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Interval string       `json:"interval"`
	Liveness string       `json:"liveness"`
	Params   []ParamInfo  `json:"params,omitempty"`
	Sources  []SourceInfo `json:"sources"`
}

// Session is a mounted view as seen by a client
type Session struct {
	ID         string            `json:"id"`
	View       string            `json:"view"`
	Params     map[string]string `json:"params,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastAccess time.Time         `json:"lastAccess"`
	Polling    bool              `json:"polling"`
	Interval   string            `json:"interval,omitempty"`
	State      status.ViewState  `json:"state"`
}

// Option is a function that sets an option for the MountOptions or PollingOptions
type Option[T MountOptions | PollingOptions] func(*T) error

// MountOptions is the options for the Mount operation
type MountOptions struct {
	// Polling is nil when the caller did not choose; polling is then enabled
	Polling  *bool
	Interval time.Duration
	// Params select the endpoints of a parameterised view, e.g. its ticker
	Params map[string]string
}

// PollingOptions is the options for the SetPolling operation
type PollingOptions struct {
	Enabled  bool
	Interval time.Duration
}

// WithPolling enables or disables polling
func WithPolling[T MountOptions | PollingOptions](enabled bool) Option[T] {
	return func(o *T) error {
		switch o := any(o).(type) {
		case *MountOptions:
			o.Polling = &enabled
		case *PollingOptions:
			o.Enabled = enabled
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
		return nil
	}
}

// WithInterval sets the polling interval. Zero keeps the view interval.
func WithInterval[T MountOptions | PollingOptions](interval time.Duration) Option[T] {
	return func(o *T) error {
		if interval < 0 {
			return fmt.Errorf("%w: invalid interval %s", ErrInvalidOption, interval)
		}

		switch o := any(o).(type) {
		case *MountOptions:
			o.Interval = interval
		case *PollingOptions:
			o.Interval = interval
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
		return nil
	}
}

// WithParams sets the params of a parameterised view. Later calls add to
// earlier ones.
func WithParams(params map[string]string) Option[MountOptions] {
	return func(o *MountOptions) error {
		if len(params) == 0 {
			return nil
		}
		if o.Params == nil {
			o.Params = make(map[string]string, len(params))
		}
		maps.Copy(o.Params, params)
		return nil
	}
}

// WithIntervalString parses and sets the polling interval. An empty string is ignored.
func WithIntervalString[T MountOptions | PollingOptions](interval string) Option[T] {
	return func(o *T) error {
		if interval == "" {
			return nil
		}
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("%w: invalid interval %q: %v", ErrInvalidOption, interval, err)
		}
		return WithInterval[T](d)(o)
	}
}

// ApplyOptions applies opts to a zero T
func ApplyOptions[T MountOptions | PollingOptions](opts ...Option[T]) (*T, error) {
	o := new(T)
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}
