// Package sources describes the remote reads that feed a data view.
//
// A Descriptor pairs a source ID with its read operation, its seed document
// and whether the view needs it to count as live. Payloads are kept as raw
// JSON; the package never interprets analytics content beyond shape checks.
//
// Building blocks:
//   - Reader: one fetch of one payload
//   - APIReader: GET against the analytics API with payload validation
//   - PayloadValidator: gjson path checks plus an optional JSON Schema
//   - ReaderFactory: builds readers from configuration
//   - LoadSeed: reads and checks a seed document from disk
package sources
