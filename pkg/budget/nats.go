package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"mercator-hq/costplane/pkg/config"
)

// NATSNotifier publishes alerts as JSON to a NATS subject. The message ID
// header is derived from firm, month and threshold so JetStream streams
// can de-duplicate redeliveries.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg config.NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "budget.nats")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("mercator-costplane"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %q: %w", cfg.URL, err)
	}

	return NewNATSNotifierWithConn(conn, cfg.Subject, cfg.Timeout, logger), nil
}

// NewNATSNotifierWithConn wraps an existing connection.
func NewNATSNotifierWithConn(conn *nats.Conn, subject string, timeout time.Duration, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultNATSTimeout
	}
	return &NATSNotifier{
		conn:    conn,
		subject: subject,
		timeout: timeout,
		logger:  logger,
	}
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s/%s/%s", alert.FirmID, alert.MonthYear, alert.Threshold))
	msg.Header.Set("Costplane-Firm", alert.FirmID)

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("failed to flush alert: %w", err)
	}
	return nil
}

// Ping reports whether the connection is established.
func (n *NATSNotifier) Ping(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", n.conn.Status())
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
