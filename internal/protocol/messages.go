package protocol

import "time"

// Transcript is a finished transcription broadcast on the bus.
type Transcript struct {
	SessionID     string    `json:"session_id"`
	ArtifactID    string    `json:"artifact_id"`
	Text          string    `json:"text"`
	Partial       bool      `json:"partial"`
	Timestamp     time.Time `json:"timestamp"`
	AudioSeconds  float64   `json:"audio_seconds,omitempty"`
	ElapsedMillis int64     `json:"elapsed_ms,omitempty"`
}

// TranscriptFailure reports a recording that produced no transcript.
type TranscriptFailure struct {
	SessionID  string    `json:"session_id"`
	ArtifactID string    `json:"artifact_id"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectTranscriptFailed = "stt.text.failed"
)
