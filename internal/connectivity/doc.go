// Package connectivity tracks whether the authority is reachable.
//
// Monitor probes the authority health endpoint on an interval and reports
// the latest result through Online. An offline to online transition must
// hold for the debounce window before the OnOnline callback fires, so a
// flapping link does not start a sync pass per flap. NetlinkWatcher listens
// for kernel network interface events and asks the monitor to probe
// immediately instead of waiting for the next tick.
package connectivity
