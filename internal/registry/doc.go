// Package registry holds the read-only catalogue of data views.
//
// A view is an ordered list of source descriptors plus its polling interval
// and liveness policy. The registry is built once at startup, from
// configuration or directly from views, and never changes afterwards.
// Accessors return copies so callers cannot alter the shared catalogue.
//
// Every source must have a seed document. Seeds are taken from the path
// configured for the source or, failing that, from the documents embedded
// under seed/, keyed by source ID.
package registry
