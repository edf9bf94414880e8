// Package domain defines the compliance catalog entities (projects and
// controls) and the typed payloads each agent task type carries. Payloads
// travel as JSON objects on the task row; this package converts between
// that map form and the typed structs and validates them.
package domain
