package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// LoadSeed reads a seed document from disk. The document must be valid JSON.
func LoadSeed(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, fmt.Errorf("seed path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("seed %s: %w: malformed JSON", path, ErrInvalidPayload)
	}

	return json.RawMessage(data), nil
}
