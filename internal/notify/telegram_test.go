package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

type fakeDevices map[int64]*device.Device

func (f fakeDevices) FindByID(_ context.Context, id int64) (*device.Device, error) {
	d, ok := f[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d, nil
}

const chatID = -100123

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestNotifier(throttle time.Duration) (*Telegram, *fakeSender) {
	sender := &fakeSender{}
	devices := fakeDevices{
		7: {ID: 7, Code: "FW-007", Name: "Kitchen <east>", Thresholds: device.DefaultThresholds},
	}
	return NewTelegram(sender, chatID, devices, throttle), sender
}

func reading(value float64, at time.Time) events.Event {
	d := &device.Device{ID: 7, Code: "FW-007"}
	return events.ReadingAccepted(d, &device.Reading{DeviceID: 7, SensorType: "smoke", Value: value, Timestamp: at})
}

func status(s device.Status, reason string, at time.Time) events.Event {
	return events.StatusChanged(&device.Device{ID: 7, Code: "FW-007", Status: s}, reason, at)
}

// ─── Status transitions ─────────────────────────────────────────────

func TestTelegram_OfflineAndRecovery(t *testing.T) {
	n, sender := newTestNotifier(time.Minute)
	ctx := context.Background()

	// A device coming online for the first time is not news.
	if err := n.Deliver(ctx, status(device.StatusActive, events.ReasonContact, base)); err != nil {
		t.Fatalf("Deliver(active) error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent %d messages for first contact, want 0", len(sender.sent))
	}

	if err := n.Deliver(ctx, status(device.StatusOffline, events.ReasonTimeout, base.Add(time.Minute))); err != nil {
		t.Fatalf("Deliver(offline) error = %v", err)
	}
	if err := n.Deliver(ctx, status(device.StatusActive, events.ReasonContact, base.Add(2*time.Minute))); err != nil {
		t.Fatalf("Deliver(recovered) error = %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	offline := sender.sent[0]
	if offline.ChatID != chatID || offline.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("offline message chat = %d mode = %q", offline.ChatID, offline.ParseMode)
	}
	if !strings.Contains(offline.Text, "device offline") || !strings.Contains(offline.Text, "timeout") {
		t.Errorf("offline text = %q", offline.Text)
	}
	if !strings.Contains(sender.sent[1].Text, "back online") {
		t.Errorf("recovery text = %q", sender.sent[1].Text)
	}
}

// ─── Reading alerts ─────────────────────────────────────────────────

func TestTelegram_ReadingLevels(t *testing.T) {
	n, sender := newTestNotifier(time.Minute)
	ctx := context.Background()

	steps := []struct {
		name     string
		value    float64
		offset   time.Duration
		wantSent int
	}{
		{"elevated is quiet", 350, 0, 0},
		{"warning alerts", 700, time.Second, 1},
		{"repeat warning is throttled", 720, 2 * time.Second, 1},
		{"escalation bypasses throttle", 1200, 3 * time.Second, 2},
		{"repeat danger is throttled", 1300, 4 * time.Second, 2},
		{"danger after throttle window", 1300, 70 * time.Second, 3},
		{"safe re-arms", 100, 71 * time.Second, 3},
		{"warning after re-arm alerts", 650, 72 * time.Second, 4},
	}

	for _, s := range steps {
		if err := n.Deliver(ctx, reading(s.value, base.Add(s.offset))); err != nil {
			t.Fatalf("%s: Deliver() error = %v", s.name, err)
		}
		if len(sender.sent) != s.wantSent {
			t.Fatalf("%s: sent %d, want %d", s.name, len(sender.sent), s.wantSent)
		}
	}

	danger := sender.sent[1].Text
	if !strings.Contains(danger, "DANGER level") || !strings.Contains(danger, "1200") {
		t.Errorf("danger text = %q", danger)
	}
	if !strings.Contains(danger, "Kitchen &lt;east&gt;") {
		t.Errorf("danger text = %q, want escaped device name", danger)
	}
}

func TestTelegram_ZeroThrottleSendsEveryAlert(t *testing.T) {
	n, sender := newTestNotifier(0)
	for i := 0; i < 3; i++ {
		if err := n.Deliver(context.Background(), reading(800, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}
	if len(sender.sent) != 3 {
		t.Errorf("sent %d, want 3", len(sender.sent))
	}
}

func TestTelegram_Errors(t *testing.T) {
	n, sender := newTestNotifier(time.Minute)
	ctx := context.Background()

	unknown := events.ReadingAccepted(&device.Device{ID: 99, Code: "FW-099"},
		&device.Reading{DeviceID: 99, Value: 5000, Timestamp: base})
	if err := n.Deliver(ctx, unknown); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Deliver(unknown device) error = %v, want ErrDeviceNotFound", err)
	}

	sender.err = errors.New("429 too many requests")
	err := n.Deliver(ctx, status(device.StatusOffline, events.ReasonTimeout, base))
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("Deliver() error = %v, want ErrSendFailed", err)
	}

	if err := n.Deliver(ctx, events.Event{Kind: events.KindReading, DeviceID: 7}); err != nil {
		t.Errorf("Deliver(reading without sample) error = %v, want nil", err)
	}
}

func TestNewBot_Disabled(t *testing.T) {
	if _, err := NewBot(config.TelegramConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("NewBot() error = %v, want ErrDisabled", err)
	}
}
