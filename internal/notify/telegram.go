package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Sender is the part of *tgbotapi.BotAPI used by Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// DeviceLookup resolves the thresholds a reading is graded against.
type DeviceLookup interface {
	FindByID(ctx context.Context, id int64) (*device.Device, error)
}

// Logger is the logging interface used by Telegram.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// NewBot authorises the bot token against the Telegram API.
func NewBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBotUnavailable, err)
	}
	return bot, nil
}

type alertState struct {
	level  device.Level
	sentAt time.Time
}

// Telegram posts device alerts to one chat.
type Telegram struct {
	sender   Sender
	chatID   int64
	devices  DeviceLookup
	throttle time.Duration
	logger   Logger

	mu      sync.Mutex
	alerts  map[int64]alertState
	offline map[int64]bool
}

// NewTelegram creates a notifier. A zero throttle sends every qualifying
// reading.
func NewTelegram(sender Sender, chatID int64, devices DeviceLookup, throttle time.Duration) *Telegram {
	return &Telegram{
		sender:   sender,
		chatID:   chatID,
		devices:  devices,
		throttle: throttle,
		logger:   noopLogger{},
		alerts:   make(map[int64]alertState),
		offline:  make(map[int64]bool),
	}
}

// SetLogger sets the logger for sent and suppressed notifications.
func (t *Telegram) SetLogger(logger Logger) {
	t.logger = logger
}

// Deliver implements events.Sink.
func (t *Telegram) Deliver(ctx context.Context, e events.Event) error {
	switch e.Kind {
	case events.KindStatusChanged:
		return t.statusChanged(e)
	case events.KindReading:
		return t.reading(ctx, e)
	}
	return nil
}

func (t *Telegram) statusChanged(e events.Event) error {
	t.mu.Lock()
	wasReported := t.offline[e.DeviceID]
	switch e.Status {
	case device.StatusOffline:
		t.offline[e.DeviceID] = true
	case device.StatusActive:
		delete(t.offline, e.DeviceID)
	}
	t.mu.Unlock()

	switch {
	case e.Status == device.StatusOffline:
		return t.send(e.DeviceCode, formatOffline(e))
	case e.Status == device.StatusActive && wasReported:
		return t.send(e.DeviceCode, formatRecovered(e))
	}
	return nil
}

func (t *Telegram) reading(ctx context.Context, e events.Event) error {
	if e.Reading == nil {
		return nil
	}

	d, err := t.devices.FindByID(ctx, e.DeviceID)
	if err != nil {
		return fmt.Errorf("notify: resolving thresholds for %s: %w", e.DeviceCode, err)
	}
	level := d.Thresholds.Classify(e.Reading.Value)

	if !t.shouldAlert(e.DeviceID, level, e.Reading.Timestamp) {
		return nil
	}
	return t.send(e.DeviceCode, formatReading(d, e.Reading, level))
}

// shouldAlert applies the per-device throttle and records the decision.
func (t *Telegram) shouldAlert(deviceID int64, level device.Level, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if level < device.LevelWarning {
		delete(t.alerts, deviceID)
		return false
	}

	last, seen := t.alerts[deviceID]
	if seen && level <= last.level && at.Sub(last.sentAt) < t.throttle {
		t.logger.Debug("reading alert throttled", "device_id", deviceID, "level", level.String())
		return false
	}

	t.alerts[deviceID] = alertState{level: level, sentAt: at}
	return true
}

func (t *Telegram) send(deviceCode, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, deviceCode, err)
	}
	t.logger.Info("telegram notification sent", "device_code", deviceCode)
	return nil
}

func formatOffline(e events.Event) string {
	var sb strings.Builder
	sb.WriteString("<b>FireWatch: device offline</b>\n\n")
	fmt.Fprintf(&sb, "<b>Device:</b> <code>%s</code>\n", html.EscapeString(e.DeviceCode))
	fmt.Fprintf(&sb, "<b>Since:</b> %s\n", e.At.Format(timeLayout))
	if e.Reason != "" {
		fmt.Fprintf(&sb, "<b>Reason:</b> %s\n", html.EscapeString(e.Reason))
	}
	sb.WriteString("\nThe device has stopped reporting. Alarms from it will not reach the backend until it reconnects.")
	return sb.String()
}

func formatRecovered(e events.Event) string {
	return fmt.Sprintf("<b>FireWatch: device back online</b>\n\n<b>Device:</b> <code>%s</code>\n<b>At:</b> %s",
		html.EscapeString(e.DeviceCode), e.At.Format(timeLayout))
}

func formatReading(d *device.Device, r *device.Reading, level device.Level) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>FireWatch: %s level</b>\n\n", strings.ToUpper(level.String()))
	fmt.Fprintf(&sb, "<b>Device:</b> <code>%s</code>\n", html.EscapeString(d.Code))
	if d.Name != "" {
		fmt.Fprintf(&sb, "<b>Name:</b> %s\n", html.EscapeString(d.Name))
	}
	fmt.Fprintf(&sb, "<b>Sensor:</b> %s\n", html.EscapeString(r.SensorType))
	fmt.Fprintf(&sb, "<b>Value:</b> %g (warning %g, danger %g)\n", r.Value, d.Thresholds.Warning, d.Thresholds.Danger)
	fmt.Fprintf(&sb, "<b>Time:</b> %s", r.Timestamp.Format(timeLayout))
	return sb.String()
}
