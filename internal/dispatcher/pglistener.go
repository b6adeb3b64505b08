package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// ListenerConfig controls the Postgres LISTEN subscription.
type ListenerConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// PGListener implements capture.Listener over a dedicated Postgres
// connection. On connection loss it reconnects with capped exponential
// backoff; notifications emitted during the gap are lost and left to the
// stale-item sweep.
type PGListener struct {
	cfg    ListenerConfig
	logger *zap.Logger

	conn    *pgx.Conn
	backoff time.Duration
}

var _ capture.Listener = (*PGListener)(nil)

// NewPGListener builds a PGListener. No connection is made until Next.
func NewPGListener(cfg ListenerConfig, logger *zap.Logger) (*PGListener, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("listener DSN is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("listener channel is required")
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 500 * time.Millisecond
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = 30 * time.Second
	}
	return &PGListener{cfg: cfg, logger: logger, backoff: cfg.MinReconnect}, nil
}

// Next blocks until a notification payload arrives or ctx finishes.
func (l *PGListener) Next(ctx context.Context) (string, error) {
	for {
		if l.conn == nil || l.conn.IsClosed() {
			if err := l.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				l.logger.Warn("listener connect failed, backing off",
					zap.Duration("backoff", l.backoff),
					zap.Error(err),
				)
				if err := l.sleep(ctx); err != nil {
					return "", err
				}
				continue
			}
		}

		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			l.logger.Warn("notification wait failed, reconnecting", zap.Error(err))
			_ = l.conn.Close(context.Background())
			l.conn = nil
			continue
		}
		return notification.Payload, nil
	}
}

// Close tears down the connection.
func (l *PGListener) Close(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close(ctx)
}

func (l *PGListener) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.cfg.Channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return fmt.Errorf("listen on %s: %w", l.cfg.Channel, err)
	}
	l.conn = conn
	l.backoff = l.cfg.MinReconnect
	l.logger.Info("listening for item notifications", zap.String("channel", l.cfg.Channel))
	return nil
}

// sleep waits out the current backoff and doubles it up to the cap.
func (l *PGListener) sleep(ctx context.Context) error {
	timer := time.NewTimer(l.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	l.backoff *= 2
	if l.backoff > l.cfg.MaxReconnect {
		l.backoff = l.cfg.MaxReconnect
	}
	return nil
}
