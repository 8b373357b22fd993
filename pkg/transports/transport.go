package transports

import (
	"context"

	"github.com/voxa-ai/voxa/pkg/frames"
)

// Transport is the media boundary of a single participant: inbound microphone
// audio and outbound agent audio. Room membership, signaling, and track
// negotiation all live outside this package; a transport only moves frames.
type Transport interface {
	// Name returns the transport name for logging.
	Name() string
	// Start begins delivering inbound audio to Recv.
	Start(ctx context.Context) error
	// Recv yields inbound participant audio. The channel closes when the
	// participant's track ends or the transport stops.
	Recv() <-chan frames.AudioFrame
	// Publish sends one frame of agent audio to the participant.
	Publish(frame frames.AudioFrame) error
	// Stop closes the inbound stream and releases the transport.
	Stop() error
}
