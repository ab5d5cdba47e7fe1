package types

// TopicCount pairs a topic with its publish counter for /status.
type TopicCount struct {
	// Topic name.
	// example: frame_changed
	Topic string `json:"topic" example:"frame_changed"`
	// Events published to this topic since startup.
	// example: 420
	Published uint64 `json:"published" example:"420"`
}

// BusStatus summarizes the message bus for /status.
type BusStatus struct {
	// Total events published across all topics.
	// example: 512
	Published uint64 `json:"published" example:"512"`
	// Total events dropped due to full subscriber queues.
	// example: 3
	Dropped uint64 `json:"dropped" example:"3"`
	// Current number of live subscriptions.
	// example: 6
	Subscribers int `json:"subscribers" example:"6"`
	// Per-topic publish counters.
	Topics []TopicCount `json:"topics"`
}

// BufferStatus summarizes the frame ring buffer for /status.
type BufferStatus struct {
	// Frames currently retained.
	// example: 8
	Size int `json:"size" example:"8"`
	// Ring capacity.
	// example: 10
	Capacity int `json:"capacity" example:"10"`
	// Next sequence number to be assigned.
	// example: 131
	NextSeq uint64 `json:"next_seq" example:"131"`
	// Retained frames that crossed the change threshold.
	// example: 5
	Significant int `json:"significant" example:"5"`
	// Retained frames not yet consumed by analysis.
	// example: 2
	Unprocessed int `json:"unprocessed" example:"2"`
	// Frames rejected by the quality gate since startup.
	// example: 1
	Rejected uint64 `json:"rejected" example:"1"`
}

// SegmenterStatus summarizes the audio segmenter for /status.
type SegmenterStatus struct {
	// Current state machine state: idle or accumulating.
	// example: idle
	State string `json:"state" example:"idle"`
	// Chunks in the current (unflushed) segment.
	// example: 0
	BufferedChunks int `json:"buffered_chunks" example:"0"`
	// Utterances flushed since startup.
	// example: 12
	Flushed uint64 `json:"flushed" example:"12"`
	// Utterances flushed by the max-duration cap.
	// example: 1
	Forced uint64 `json:"forced" example:"1"`
}

// LoopStatus describes one coordinator loop for /status.
type LoopStatus struct {
	// Loop name.
	// example: capture
	Name string `json:"name" example:"capture"`
	// Lifecycle state: running, stopped, or failed.
	// example: running
	State string `json:"state" example:"running"`
	// Restarts performed after failures.
	// example: 0
	Restarts int `json:"restarts" example:"0"`
	// Whether a terminal failure of this loop ends the session.
	// example: true
	Essential bool `json:"essential" example:"true"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Session lifecycle state: running, stopping, or stopped.
	// example: running
	State string `json:"state" example:"running"`
	// Snapshot of the shared session state.
	Session SessionState `json:"session"`
	// Coordinator loops.
	Loops []LoopStatus `json:"loops"`
	Bus       BusStatus       `json:"bus"`
	Buffer    BufferStatus    `json:"buffer"`
	Segmenter SegmenterStatus `json:"segmenter"`
	// Uptime in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: not found
	Error string `json:"error" example:"not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
