package session

import "time"

// ToastKind classifies a notification.
type ToastKind string

const (
	ToastError   ToastKind = "error"
	ToastMessage ToastKind = "message"
	ToastInfo    ToastKind = "info"
)

// Toast is a one-shot notification for the user.
type Toast struct {
	ID     string
	Kind   ToastKind
	Title  string
	Body   string
	RoomID string
	At     time.Time
}

// Notifier shows toasts. Notify must not block.
type Notifier interface {
	Notify(Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Toast)

// Notify implements Notifier.
func (f NotifierFunc) Notify(t Toast) { f(t) }
