// Package notify is the delivery seam: the engine renders a message and asks
// a Notifier to deliver it. Transports beyond email are injected by the
// host; nothing here performs SMS or WhatsApp delivery itself.
package notify

import (
	"context"
	"errors"
)

// Delivery channels.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

var ErrChannelUnavailable = errors.New("delivery channel not configured")

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a rendered message to a destination on a channel.
type Notifier interface {
	Deliver(ctx context.Context, channel, to string, msg Message) error
}
