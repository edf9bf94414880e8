// Package intent turns free-form requests into typed agent tasks.
//
// Detection and extraction are pure functions over the request text.
// Orchestrator adds the catalog lookups that resolve control codes and
// reject unknown projects, then persists the task as pending.
package intent
