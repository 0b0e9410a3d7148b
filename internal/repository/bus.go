package repository

// MessageBus publishes ledger lifecycle events for downstream consumers.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NoopBus is wired when no bus is configured.
type NoopBus struct{}

func (NoopBus) Publish(topic string, data []byte) error { return nil }
