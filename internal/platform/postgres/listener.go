package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultNotifyChannel is the channel the agent_tasks insert trigger
// announces new rows on.
const DefaultNotifyChannel = "new_task"

// Listener turns LISTEN/NOTIFY messages into worker wake-ups. It holds a
// dedicated connection outside the database/sql pool and re-establishes
// it after a delay whenever it drops.
type Listener struct {
	url            string
	channel        string
	reconnectDelay time.Duration
	logger         *slog.Logger

	// connect is replaceable in tests
	connect func(ctx context.Context, url string) (notificationConn, error)
}

// notificationConn is the part of a pgx connection the listener uses.
type notificationConn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// NewListener creates a Listener for channel. An empty channel means
// DefaultNotifyChannel.
func NewListener(url, channel string, reconnectDelay time.Duration, logger *slog.Logger) *Listener {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Listener{
		url:            url,
		channel:        channel,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "task_listener"), slog.String("channel", channel)),
		connect:        connectPgx,
	}
}

// Listen blocks until ctx is done, calling wake for every notification and
// once after each (re)connect, since rows inserted while disconnected were
// never announced. Connection failures are logged and retried; they never
// end the loop.
func (l *Listener) Listen(ctx context.Context, wake func()) error {
	for {
		err := l.session(ctx, wake)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("notification listener disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", l.reconnectDelay))

		timer := time.NewTimer(l.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection's lifetime.
func (l *Listener) session(ctx context.Context, wake func()) error {
	conn, err := l.connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if err := conn.Listen(ctx, l.channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for task notifications")
	wake()

	for {
		payload, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.logger.Debug("task notification received", slog.String("payload", payload))
		wake()
	}
}

// pgxConn adapts *pgx.Conn to notificationConn.
type pgxConn struct {
	conn *pgx.Conn
}

func connectPgx(ctx context.Context, url string) (notificationConn, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

func (c *pgxConn) Listen(ctx context.Context, channel string) error {
	_, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (c *pgxConn) WaitForNotification(ctx context.Context) (string, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
