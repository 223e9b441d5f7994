package connector

import (
	"time"

	"github.com/cossteam/udpkit/pkg/transport/udp"
)

// Message is one datagram accepted by the receive loop.
type Message struct {
	// Remote is the sender's endpoint.
	Remote *udp.Addr
	// Local is the endpoint the datagram arrived on.
	Local *udp.Addr
	// Payload holds the raw bytes. It is owned by the handler.
	Payload []byte
	// Text is Payload decoded with the connector's encoding.
	Text       string
	ReceivedAt time.Time
}
