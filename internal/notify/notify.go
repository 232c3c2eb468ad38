// Package notify доставляет короткие уведомления пользователю
// (успех/ошибка сохранения и т.п.).
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/neuhoffm/firecms/internal/logger"
)

type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Subject string    `json:"subject,omitempty"` // путь схемы/коллекции
	Time    time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func адаптирует функцию к Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Discard молча теряет уведомления.
var Discard Notifier = Func(func(context.Context, Notification) error { return nil })

// Log пишет уведомления в slog.
type Log struct{}

func (Log) Notify(ctx context.Context, n Notification) error {
	lvl := slog.LevelInfo
	switch n.Level {
	case Warning:
		lvl = slog.LevelWarn
	case Error:
		lvl = slog.LevelError
	}
	logger.From(ctx).Log(ctx, lvl, n.Message, "level", string(n.Level), "subject", n.Subject)
	return nil
}

// Multi рассылает во все приёмники; ошибки объединяются.
func Multi(ns ...Notifier) Notifier {
	return Func(func(ctx context.Context, n Notification) error {
		var errs []error
		for _, x := range ns {
			if err := x.Notify(ctx, n); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Send проставляет время и отправляет. Ошибка доставки только логируется:
// уведомление не должно ломать основную операцию.
func Send(ctx context.Context, n Notifier, lvl Level, subject, msg string) {
	if n == nil {
		return
	}
	err := n.Notify(ctx, Notification{Level: lvl, Message: msg, Subject: subject, Time: time.Now().UTC()})
	if err != nil {
		logger.From(ctx).Warn("notification not delivered", "err", err, "subject", subject)
	}
}

// Recorder запоминает уведомления; удобно в тестах и для опроса через API.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Drain возвращает накопленное и очищает буфер.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}
