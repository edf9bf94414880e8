// Package task defines the agent task model and the worker that drives
// persisted tasks from pending through running to a terminal state.
// Tasks survive process restarts because the store, not an in-memory
// queue, is the source of truth; the worker only keeps a set of the ids
// it is currently executing.
package task
