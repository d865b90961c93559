package mentora

import "github.com/google/uuid"

// Message is the public view of a rendered message handed to a Dispatcher.
// No internal package imports, so extensions outside the module can use it.
type Message struct {
	ExecutionID  *uuid.UUID
	ContactID    *uuid.UUID
	TemplateName string
	To           string
	Subject      string
	Body         string
	// Tags carry provider metadata such as the template name.
	Tags map[string]string
}

// SendResult is what a Dispatcher returns for an accepted message.
type SendResult struct {
	ProviderMessageID string
}
