package budget

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/telemetry/logging"
)

func TestMultiNotifier(t *testing.T) {
	var calls []string
	ok := NotifierFunc(func(ctx context.Context, a Alert) error {
		calls = append(calls, "ok")
		return nil
	})
	failing := NotifierFunc(func(ctx context.Context, a Alert) error {
		calls = append(calls, "failing")
		return errors.New("webhook down")
	})

	m := MultiNotifier{failing, nil, ok, NewLogNotifier(logging.Discard())}
	err := m.Notify(context.Background(), Alert{FirmID: "firm-a", Threshold: Threshold90})
	if err == nil || err.Error() != "webhook down" {
		t.Errorf("Expected joined error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "failing" || calls[1] != "ok" {
		t.Errorf("Expected every notifier to be attempted, got %v", calls)
	}
}

func TestNATSNotifier(t *testing.T) {
	url := os.Getenv("COSTPLANE_TEST_NATS_URL")
	if url == "" {
		t.Skip("COSTPLANE_TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("failed to connect subscriber: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("costplane.test.alerts", msgs); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("failed to flush subscription: %v", err)
	}

	n, err := NewNATSNotifier(config.NATSConfig{
		URL:     url,
		Subject: "costplane.test.alerts",
		Timeout: 2 * time.Second,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("NewNATSNotifier failed: %v", err)
	}
	defer n.Close()

	if err := n.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	alert := Alert{FirmID: "firm-a", Threshold: Threshold100, MonthYear: "2026-03", SpendCents: 10050, BudgetCents: 10000}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case msg := <-msgs:
		var got Alert
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("failed to decode alert: %v", err)
		}
		if got.FirmID != "firm-a" || got.Threshold != Threshold100 {
			t.Errorf("unexpected alert payload: %+v", got)
		}
		if id := msg.Header.Get(nats.MsgIdHdr); id != "firm-a/2026-03/100" {
			t.Errorf("Expected message id firm-a/2026-03/100, got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
	}
}
