package websocket

// Request actions (client -> server). ActionStreamStatus is also pushed as a
// notification whenever the connection state changes.
const (
	ActionHealthCheck        = "health.check"
	ActionStreamStatus       = "stream.status"
	ActionStreamMessages     = "stream.messages"
	ActionStreamReconnect    = "stream.reconnect"
	ActionProjectSubscribe   = "project.subscribe"
	ActionProjectUnsubscribe = "project.unsubscribe"
)

// Notification actions (server -> client)
const (
	ActionStreamMessage = "stream.message"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
