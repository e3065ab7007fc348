package types

import "time"

// Stage identifies a pipeline stage within a conversation turn.
type Stage string

const (
	StageASR         Stage = "asr"
	StageLLM         Stage = "llm"
	StageTranslation Stage = "translation"
	StageTTS         Stage = "tts"
)

// Outcome classifies how a conversation turn ended.
type Outcome string

const (
	// OutcomeCompleted means the full pipeline ran and produced a response.
	OutcomeCompleted Outcome = "completed"
	// OutcomeGuardrailBlocked means a guardrail substituted the safe-fallback
	// response. The turn still completed and returned audio.
	OutcomeGuardrailBlocked Outcome = "guardrail_blocked"
	// OutcomeInterrupted means the user barged in before the turn finished.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeFailed means a stage error exhausted its retries.
	OutcomeFailed Outcome = "failed"
)

// TranscriptSegment is a single timed segment of a transcription.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the result of speech recognition for one utterance.
type Transcript struct {
	Text         string              `json:"text"`
	LanguageCode string              `json:"language_code"`
	Confidence   float64             `json:"confidence"`
	Segments     []TranscriptSegment `json:"segments,omitempty"`
}

// StageLatency records wall-clock latency of one pipeline stage.
type StageLatency struct {
	Stage     Stage         `json:"stage"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}
