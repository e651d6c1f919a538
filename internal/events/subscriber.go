package events

// Subscriber receives mirrored frames from the event bus.
type Subscriber interface {
	// Subscribe delivers raw frames on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(subject string) (<-chan []byte, func(), error)
	Close() error
}
