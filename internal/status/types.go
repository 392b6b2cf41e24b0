// Package status tracks the freshness and liveness of a mounted view.
package status

import (
	"encoding/json"
	"time"
)

// Phase represents where a view is in its refresh lifecycle
type Phase string

const (
	// PhaseSeeded means no refresh cycle has completed; data is the seed
	PhaseSeeded Phase = "Seeded"

	// PhaseRefreshing means a refresh cycle is in flight
	PhaseRefreshing Phase = "Refreshing"

	// PhaseLive means the view is live. Under sticky liveness it stays Live
	// through later cycles in which a required source failed.
	PhaseLive Phase = "Live"

	// PhaseDegraded means a cycle completed but the view is not live: some
	// required source has never succeeded, or strict liveness was reset.
	PhaseDegraded Phase = "Degraded"
)

const (
	// LabelLive is shown once the view has been refreshed from the API
	LabelLive = "Live"

	// LabelDemo is shown while the view renders seed data
	LabelDemo = "Demo"
)

// SourceStatus reports the health of one source
type SourceStatus struct {
	Required bool `json:"required"`

	// LastSuccess is when the source last delivered data
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// LastError is the error of the most recent failed read, cleared on success
	LastError string `json:"lastError,omitempty"`

	// ConsecutiveFailures counts failed cycles since the last success
	ConsecutiveFailures int `json:"consecutiveFailures"`
}

// Notification tells the user that a required source could not be refreshed
type Notification struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"sourceId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ViewState is a point-in-time snapshot of a view
type ViewState struct {
	View         string `json:"view"`
	Phase        Phase  `json:"phase"`
	Label        string `json:"label"`
	IsLive       bool   `json:"isLive"`
	IsRefreshing bool   `json:"isRefreshing"`

	// LastRefresh is when the most recent cycle finished, whatever its outcome
	LastRefresh *time.Time `json:"lastRefresh,omitempty"`

	// LastSuccess is when a cycle last refreshed every required source
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// LastError describes the most recent required source failure
	LastError string `json:"lastError,omitempty"`

	// Data holds the latest payload of every source, seeds included
	Data map[string]json.RawMessage `json:"data"`

	Sources       map[string]SourceStatus `json:"sources"`
	Notifications []Notification          `json:"notifications"`
}
