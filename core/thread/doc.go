// Package thread provides the small set of concurrency primitives the sync
// engine is written against: a joinable worker thread, a mutex that can be
// made reentrant, and a counting semaphore with a timed wait.
//
// The engine thread and the scanning threads only ever use these types, so
// their blocking behavior is uniform across the codebase.
package thread
