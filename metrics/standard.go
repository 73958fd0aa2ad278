package metrics

// Pre-defined metrics for the blob relay. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Job metrics ----

	// JobsSubmitted counts write requests accepted by the coordinator.
	JobsSubmitted = DefaultRegistry.Counter("jobs.submitted")
	// JobsRejected counts write requests rejected before blob work began.
	JobsRejected = DefaultRegistry.Counter("jobs.rejected")
	// JobsCachedReplies counts submissions answered from the result cache.
	JobsCachedReplies = DefaultRegistry.Counter("jobs.cached_replies")
	// JobsInFlight tracks submissions currently holding a job lock.
	JobsInFlight = DefaultRegistry.Gauge("jobs.in_flight")
	// JobSubmitTime records end-to-end submission latency in milliseconds.
	JobSubmitTime = DefaultRegistry.Histogram("jobs.submit_ms")

	// ---- Blob transaction metrics ----

	// BlobsBroadcast counts blob transactions handed to the chain.
	BlobsBroadcast = DefaultRegistry.Counter("txblob.broadcast")
	// BlobsConfirmed counts blob transactions confirmed with status 1.
	BlobsConfirmed = DefaultRegistry.Counter("txblob.confirmed")
	// BlobsFailed counts broadcasts that errored or reverted.
	BlobsFailed = DefaultRegistry.Counter("txblob.failed")

	// ---- Completion queue metrics ----

	// CompletionsAttempted counts completeJob calls issued by the queue.
	CompletionsAttempted = DefaultRegistry.Counter("queue.attempts")
	// CompletionsSucceeded counts intents that reached succeeded.
	CompletionsSucceeded = DefaultRegistry.Counter("queue.succeeded")
	// CompletionsAbandoned counts intents that hit the attempt cap.
	CompletionsAbandoned = DefaultRegistry.Counter("queue.abandoned")
	// QueueDepth tracks intents currently due for processing.
	QueueDepth = DefaultRegistry.Gauge("queue.depth")

	// ---- RPC metrics ----

	// RPCRequests counts incoming HTTP API requests.
	RPCRequests = DefaultRegistry.Counter("api.requests")
	// RPCErrors counts API requests that returned an error body.
	RPCErrors = DefaultRegistry.Counter("api.errors")
	// RPCLatency records API request latency in milliseconds.
	RPCLatency = DefaultRegistry.Histogram("api.latency_ms")
)
