package logging

const (
	// Component
	FieldComponent = "component"
	FieldService   = "service"

	// Queue
	FieldMessageID    = "message_id"
	FieldConversation = "conversation_id"
	FieldStatus       = "status"
	FieldRetryCount   = "retry_count"
	FieldAttempted    = "attempted"

	// Cache
	FieldCommodity = "commodity"
	FieldUserID    = "user_id"
	FieldEvicted   = "evicted"

	// Network
	FieldSpeedKbps = "speed_kbps"
	FieldLatencyMs = "latency_ms"
	FieldQuality   = "quality"
	FieldOnline    = "online"
)
