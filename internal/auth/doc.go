// Package auth issues and validates the HS256 bearer tokens that identify
// the principal behind an API request. The principal id travels in the
// "uid" claim.
package auth
