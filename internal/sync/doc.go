// Package sync runs refresh cycles for data views.
//
// A cycle starts every source read of a view at once. Each read goes
// through the retry wrapper and settles independently: a success is handed
// to the Reconciler immediately, a failure is reported without touching the
// source's previous data. One failing source never cancels or corrupts its
// siblings. The cycle returns once every source has settled.
//
// # Reconciliation contract
//
//   - ApplySource is called exactly once per succeeded source
//   - RejectSource is called exactly once per failed source
//   - Calls may arrive concurrently and in any order
//
// A cycle is live when every required source of the view succeeded in it.
//
// The sync/coordinator subpackage schedules cycles on a timer.
package sync
