// Package scheduler owns named timer groups.
//
// A timer is either a cron expression or a natural-language phrase, possibly
// relative to sunrise or sunset. The scheduler only computes and arms wake
// times; every fire is handed to the task engine, the same ordered queue
// event callbacks run on.
package scheduler
