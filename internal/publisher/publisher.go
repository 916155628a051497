// Package publisher pushes new-listing events to downstream consumers.
package publisher

import "context"

// Publisher delivers a payload to a named topic and returns a message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
