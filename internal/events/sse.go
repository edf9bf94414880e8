package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// DefaultKeepaliveInterval is how often an idle stream sends a keepalive.
const DefaultKeepaliveInterval = 30 * time.Second

// WriteEvent writes one named server-sent event with a JSON body.
func WriteEvent(w io.Writer, name string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, body); err != nil {
		return fmt.Errorf("failed to write %s event: %w", name, err)
	}
	return nil
}

// Stream writes sub to w as server-sent events until ctx is done or the
// subscription is closed. flush is called after every event. A connected
// event is sent first and a keepalive every keepalive interval.
func Stream(ctx context.Context, w io.Writer, flush func(), sub *Subscription, keepalive time.Duration) error {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	if flush == nil {
		flush = func() {}
	}

	if err := WriteEvent(w, EventConnected, map[string]any{
		"subscription_id": sub.ID.String(),
		"principal_id":    sub.PrincipalID,
	}); err != nil {
		return err
	}
	flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, EventTaskUpdate, update); err != nil {
				return err
			}
			flush()
		case now := <-ticker.C:
			if err := WriteEvent(w, EventKeepalive, map[string]any{"timestamp": now.UTC().Format(time.RFC3339)}); err != nil {
				return err
			}
			flush()
		}
	}
}
