package types

import "time"

// Topic identifies an event category on the session bus. The set is closed;
// components never invent topics at runtime.
type Topic string

const (
	TopicFrameChanged      Topic = "frame_changed"
	TopicUtteranceReady    Topic = "utterance_ready"
	TopicAnalysisResult    Topic = "analysis_result"
	TopicAnnotationRequest Topic = "annotation_request"
	TopicError             Topic = "error"
)

// Topics lists every valid topic, in no particular order.
func Topics() []Topic {
	return []Topic{
		TopicFrameChanged,
		TopicUtteranceReady,
		TopicAnalysisResult,
		TopicAnnotationRequest,
		TopicError,
	}
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	switch t {
	case TopicFrameChanged, TopicUtteranceReady, TopicAnalysisResult,
		TopicAnnotationRequest, TopicError:
		return true
	}
	return false
}

// Event is a single bus message. Immutable once published: subscribers must
// treat Payload as read-only.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// ErrorPayload is the payload carried by TopicError events.
type ErrorPayload struct {
	Reason    string `json:"reason"`
	Component string `json:"component"`
	Detail    string `json:"detail,omitempty"`
}

// Well-known error reasons used in ErrorPayload.Reason.
const (
	ReasonLowQualityFrame = "low_quality_frame"
	ReasonBusOverflow     = "bus_overflow"
	ReasonStateMutation   = "state_mutation_failed"
	ReasonCollaborator    = "collaborator_failed"
	ReasonLoopFailure     = "loop_failure"
)

// RawFrame is a captured pixel buffer as delivered by the capture source:
// packed 24-bit BGR, 3 bytes per pixel, row-major.
type RawFrame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Frame is a retained frame inside the ring buffer.
type Frame struct {
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
	// Score is the change fraction relative to the previous retained valid
	// frame, in [0,1]. The first frame has no predecessor and scores 1.
	Score       float64
	Significant bool
	// Valid is false for blank frames that must not serve as a diff baseline.
	Valid     bool
	Processed bool
}

// FrameRef is the lightweight payload published on TopicFrameChanged and
// stored in session state; the pixel data stays in the ring buffer.
type FrameRef struct {
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Score      float64   `json:"score"`
}

// AudioSegment is one utterance, accumulated from the first speech chunk to
// the last chunk before the silence run that closed it.
type AudioSegment struct {
	Samples   []byte
	StartedAt time.Time
	EndedAt   time.Time
	Final     bool
	// Forced marks a segment flushed by the max-duration cap rather than a
	// natural silence run. Transcription should treat Forced segments as
	// potentially truncated.
	Forced bool
	Chunks int
}

// Turn is one entry of conversation history.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Annotation describes a visual marker requested by the analysis collaborator.
type Annotation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "arrow", "highlight", "text"
	Label     string    `json:"label,omitempty"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the annotation should be swept at time now.
func (a Annotation) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// AnalysisResult is returned by the vision collaborator and published on
// TopicAnalysisResult.
type AnalysisResult struct {
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// SessionState is the shared session record. The state store hands out copies;
// mutating a returned value never affects the store.
type SessionState struct {
	Version        uint64       `json:"version"`
	Frame          FrameRef     `json:"frame"`
	History        []Turn       `json:"history"`
	Annotations    []Annotation `json:"annotations"`
	Listening      bool         `json:"listening"`
	Speaking       bool         `json:"speaking"`
	Processing     bool         `json:"processing"`
	LastTranscript string       `json:"last_transcript,omitempty"`
}
