package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

type fakeChannel struct {
	name string
	err  error
	sent []*Event
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, ev *Event) error {
	f.sent = append(f.sent, ev)
	return f.err
}

func TestFanOutReachesAllChannels(t *testing.T) {
	m := NewNotificationManager(zap.NewNop())
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	m.AddChannel(a)
	m.AddChannel(b)

	err := m.Send(EventSuccess, "done", "all good", map[string]any{"instance": "db1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("fan-out: a=%d b=%d", len(a.sent), len(b.sent))
	}
	if a.sent[0].Priority != PriorityNormal {
		t.Errorf("success priority = %s", a.sent[0].Priority)
	}
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	m := NewNotificationManager(zap.NewNop())
	bad := &fakeChannel{name: "bad", err: errors.New("smtp down")}
	good := &fakeChannel{name: "good"}
	m.AddChannel(bad)
	m.AddChannel(good)

	err := m.Send(EventFailure, "broke", "details", nil)
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send = %v, want ErrSendFailed", err)
	}
	if len(good.sent) != 1 {
		t.Error("later channel skipped after earlier failure")
	}
	if good.sent[0].ChannelErrors["bad"] != "smtp down" {
		t.Errorf("channel error not recorded: %v", good.sent[0].ChannelErrors)
	}
}

func TestSendAlertNormalizesTrigger(t *testing.T) {
	m := NewNotificationManager(zap.NewNop())
	ch := &fakeChannel{name: "x"}
	m.AddChannel(ch)

	trig := Trigger{
		RuleName:  "slow-backup",
		Severity:  SeverityCritical,
		Message:   "too slow",
		Value:     120.0,
		Instance:  "prod",
		Timestamp: time.Now(),
	}
	if err := m.SendAlert(trig); err != nil {
		t.Fatal(err)
	}
	ev := ch.sent[0]
	if ev.Type != EventAlert || ev.Priority != PriorityHigh {
		t.Errorf("alert event = %+v", ev)
	}
	if ev.Metadata["rule"] != "slow-backup" || ev.Metadata["severity"] != "critical" {
		t.Errorf("alert metadata = %v", ev.Metadata)
	}
}

func TestWebhookRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookSettings{Enabled: true, URL: srv.URL})
	err := ch.Send(context.Background(), &Event{
		Type: EventFailure, Subject: "s", Body: "b", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send after retries = %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWebhookDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookSettings{Enabled: true, URL: srv.URL})
	err := ch.Send(context.Background(), &Event{Type: EventAlert, Timestamp: time.Now()})
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send = %v, want ErrSendFailed", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("4xx retried: calls = %d", calls)
	}
}

func TestWebhookSignsBody(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Backupd-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookSettings{Enabled: true, URL: srv.URL, Secret: "shh"})
	if err := ch.Send(context.Background(), &Event{Type: EventSuccess, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if len(signature) == 0 || signature[:7] != "sha256=" {
		t.Errorf("signature header = %q", signature)
	}
}

func TestChatSeverityColor(t *testing.T) {
	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := jsonDecode(r, &got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewChatChannel(config.ChatSettings{Enabled: true, WebhookURL: srv.URL})
	ev := &Event{
		Type:      EventAlert,
		Subject:   "alert",
		Body:      "body",
		Metadata:  map[string]any{"severity": "critical"},
		Timestamp: time.Now(),
	}
	if err := ch.Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Color != "danger" {
		t.Errorf("chat payload = %+v", got)
	}
}
