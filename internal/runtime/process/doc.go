// Package process launches local programs inside a termination boundary so
// that stopping a workload takes its whole descendant tree with it.
//
// On Unix the boundary is a dedicated process group and teardown signals the
// group. On Windows the child is assigned to a Job Object configured to kill
// every member when the job is terminated or its handle is closed. When the
// boundary cannot be established, or its teardown fails, Terminate falls back
// to walking the descendant tree and finally to killing the tracked PID.
package process
