package mentora

import "context"

// Dispatcher delivers one rendered message to an email provider.
// When provided via WithDispatcher, it replaces the provider selected by
// MENTORA_NOTIFY_PROVIDER. Each Send is still bounded by the action timeout,
// and a returned error fails the rule that sent the message.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, msg Message) (SendResult, error)

// Send calls f.
func (f DispatcherFunc) Send(ctx context.Context, msg Message) (SendResult, error) {
	return f(ctx, msg)
}
