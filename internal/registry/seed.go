package registry

import (
	"embed"
	"encoding/json"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed seed/*.json
var seedFS embed.FS

// Seed returns the embedded seed document for a source ID
func Seed(sourceID string) (json.RawMessage, bool) {
	data, err := seedFS.ReadFile(path.Join("seed", sourceID+".json"))
	if err != nil {
		return nil, false
	}
	return json.RawMessage(data), true
}

// SeedIDs lists the source IDs that have an embedded seed, sorted
func SeedIDs() []string {
	entries, err := fs.ReadDir(seedFS, "seed")
	if err != nil {
		return nil
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids
}
