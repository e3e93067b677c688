package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"escrowflow/logging"
)

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxSink records in-app notifications as outbox rows for a relay to pick
// up.
type OutboxSink struct {
	db Execer
}

func NewOutboxSink(db Execer) *OutboxSink {
	return &OutboxSink{db: db}
}

func (s *OutboxSink) Warning() string { return "notification.inbox_failed" }

func (s *OutboxSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, "notification."+ev.Type, payload); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}
	return nil
}

// DeviceTokenSource looks up push tokens by user id.
type DeviceTokenSource interface {
	DeviceTokens(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Pusher delivers one push message to one device.
type Pusher interface {
	SendPush(ctx context.Context, deviceToken, title, body string, payload map[string]string) error
}

// PushSink pushes ev to every party that registered a device.
type PushSink struct {
	tokens DeviceTokenSource
	pusher Pusher
}

func NewPushSink(tokens DeviceTokenSource, pusher Pusher) *PushSink {
	return &PushSink{tokens: tokens, pusher: pusher}
}

func (s *PushSink) Warning() string { return "notification.push_failed" }

func (s *PushSink) Send(ctx context.Context, ev Event) error {
	tokens, err := s.tokens.DeviceTokens(ctx, ev.Recipients())
	if err != nil {
		return fmt.Errorf("notify: device tokens: %w", err)
	}
	payload := map[string]string{
		"type":       ev.Type,
		"contractId": strconv.FormatInt(ev.ContractID, 10),
	}

	var (
		g    errgroup.Group
		errs = make([]error, 0, len(tokens))
		ch   = make(chan error, len(tokens))
	)
	for _, token := range tokens {
		g.Go(func() error {
			ch <- s.pusher.SendPush(ctx, token, ev.Title, ev.Body, payload)
			return nil
		})
	}
	_ = g.Wait()
	close(ch)
	for err := range ch {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPusher stands in for a push provider and only logs deliveries.
type LogPusher struct {
	log *logging.Logger
}

func NewLogPusher(log *logging.Logger) *LogPusher {
	return &LogPusher{log: log}
}

func (p *LogPusher) SendPush(_ context.Context, deviceToken, title, body string, payload map[string]string) error {
	p.log.Info("push notification", "device_token", deviceToken, "title", title, "body", body, "type", payload["type"], "contract_id", payload["contractId"])
	return nil
}
