// Package vmbatch is the root of the batch-operation engine for virtual
// machine management: run a change against every resolved machine, watch
// the endpoint's long-running tasks, wait for conditions and push whole runs
// into the background.
//
// The engine lives in the subpackages:
//
//	execution  enumerate, validate and process operands with failure isolation
//	task       watchable handles for endpoint work in progress
//	watcher    the foreground OperationWatcher with console sinks and prompts
//	job        background runs that can be polled and stopped
//	wait       condition polling with timeout and stop
//	invoke     resolver and invoker boundaries, retry and rate limiting
//
// This package holds the zerolog setup shared by the command line tool.
package vmbatch
