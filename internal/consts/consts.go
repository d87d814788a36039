package consts

const (
	// CategoriesCacheKey holds the cached category list.
	CategoriesCacheKey = "tasktracker:categories"
	// PrioritiesCacheKey holds the cached priority list.
	PrioritiesCacheKey = "tasktracker:priorities"
	// IdempotencyKeyPrefix namespaces create-request idempotency keys.
	IdempotencyKeyPrefix = "tasktracker:idem:"

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"

	// SSE framing.
	SSEEventPrefix = "event: "
	SSEDataPrefix  = "data: "
	SSEConnected   = ": connected\n\n"
	SSEPing        = ": ping\n\n"
)
