// Package store defines the database abstraction and the error vocabulary
// shared by persistence implementations, so callers can classify failures
// without depending on a specific database driver.
package store
