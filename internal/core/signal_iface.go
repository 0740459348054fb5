package core

// Frame is a serialized outbound message.
type Frame []byte

// ConnID identifies one live transport connection.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnID
	// TrySend enqueues f without blocking. A non-nil error means the
	// frame was not accepted and the connection should be treated as gone.
	TrySend(f Frame) error
	Close()
}
