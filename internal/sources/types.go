package sources

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
)

// ErrInvalidPayload is returned when a response body is not acceptable data
// for its source.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrUnboundParam is returned when an endpoint placeholder has no value
var ErrUnboundParam = errors.New("unbound parameter")

// ReadFunc fetches the current payload of one source
type ReadFunc func(ctx context.Context) (json.RawMessage, error)

// Descriptor describes one source of a view. It is immutable once the view
// has been built.
type Descriptor struct {
	// ID is unique within the view and keys the view's data
	ID string

	// Read fetches a fresh payload
	Read ReadFunc

	// Seed is the fallback payload shown before the first successful read
	Seed json.RawMessage

	// Required sources must all succeed in a cycle for the view to go live
	Required bool
}

//go:generate mockgen -destination=mocks/mock_reader.go -package=mocks -source=types.go Reader,ReaderFactory

// Reader fetches payloads for a single source
type Reader interface {
	// Read performs one fetch without retrying
	Read(ctx context.Context) (json.RawMessage, error)
}

// ReaderFactory creates readers from source configuration
type ReaderFactory interface {
	// CreateReader builds the reader for one configured source. params fill
	// the placeholders of the source endpoint.
	CreateReader(source config.SourceConfig, params map[string]string) (Reader, error)
}
