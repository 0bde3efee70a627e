// Package input subscribes to the host's keyboard event stream.
//
// Platform sources read key codes only to recognise a key-down event and
// drop them immediately: nothing that identifies a key ever reaches a
// Handler.
package input

import (
	"errors"
)

// KeyPress signals that some key went down. It carries no key identity.
type KeyPress struct{}

// Handler is invoked once per key press, on the source's delivery
// goroutine. It must not block.
type Handler func(KeyPress)

// Source is the capability to subscribe to key presses.
type Source interface {
	Subscribe(h Handler) (Subscription, error)
}

// Subscription is a live registration with a Source.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
	// Err delivers a failure that ended delivery, such as every input
	// device disappearing.
	Err() <-chan error
}

// SourceFunc adapts a function literal to the Source interface.
type SourceFunc func(h Handler) (Subscription, error)

// Subscribe calls the underlying function.
func (f SourceFunc) Subscribe(h Handler) (Subscription, error) {
	return f(h)
}

var (
	// ErrPermission indicates the host refused access to keyboard events.
	ErrPermission = errors.New("permission to read keyboard events denied")
	// ErrNoDevices indicates no keyboard could be found or all were lost.
	ErrNoDevices = errors.New("no keyboard input devices available")
	// ErrAlreadySubscribed indicates a process-wide source is in use.
	ErrAlreadySubscribed = errors.New("keyboard source already has a subscriber")
	// ErrUnsupported indicates the platform has no keyboard source.
	ErrUnsupported = errors.New("keyboard capture is not supported on this platform")
)

// Options configures the platform source.
type Options struct {
	// Devices overrides device discovery where the platform supports it.
	Devices []string
}

// Default returns the keyboard source for the running platform.
func Default(opts Options) Source {
	return platformSource(opts)
}
