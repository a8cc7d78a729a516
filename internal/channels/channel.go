// Package channels contains the transports participants talk to the
// quest through. Telegram is the only production transport.
package channels

import "context"

// Channel is a transport that relays participant interactions to the
// engine.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
}
