// Package handlers implements the task handlers for the compliance task
// types. Each handler validates its payload, calls one tool on the tool
// service and returns the tool's result as the task result.
package handlers
