package messaging

const (
	// TopicPaymentEvents carries verified raw gateway callbacks awaiting
	// reconciliation, keyed by purchase intent id.
	TopicPaymentEvents = "payment.events"
	TopicOrderCreated  = "order.created"
)

const eventTypeHeader = "event-type"
