// Package events fans task results out to live subscribers.
//
// Broadcaster keeps one buffered channel per principal and routes each
// finished task to the principal that created it. Delivery is at most
// once: an update for a principal with no subscriber, or whose buffer is
// full, is dropped. Stream renders a subscription as a server-sent event
// stream.
package events
