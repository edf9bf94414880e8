// Package api exposes the task engine over HTTP: free-form task requests,
// task queries, the live update stream and operational endpoints. It
// translates HTTP concerns to orchestrator, store and broadcaster calls and
// never returns raw internal error text to clients.
package api
