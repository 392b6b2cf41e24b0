// Package coordinator schedules periodic refresh cycles for a data view.
//
// A Scheduler owns one ticker. Every tick calls the trigger function in its
// own goroutine so a slow cycle never delays the ticker; the trigger itself
// decides whether a cycle can start. Ticks that arrive while a cycle is in
// flight are expected to be dropped by the trigger, never queued, and missed
// ticks are not caught up.
//
// # Lifecycle
//
//	sched := coordinator.New("dashboard", controller.TriggerFromTick)
//	if err := sched.Start(30 * time.Second); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// Start is idempotent while the scheduler runs. Stop cancels the ticker loop
// and waits for it to exit; cycles already running are left to finish on
// their own.
//
// # Testing
//
// The ticker comes from k8s.io/utils/clock so tests can drive ticks with a
// fake clock instead of sleeping.
package coordinator
