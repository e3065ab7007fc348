package speech

import (
	"context"
	"time"

	"github.com/BaSui01/voiceflow/types"
)

// STTClient 语音识别客户端接口
type STTClient interface {
	// Transcribe 将一段音频转写为文本
	Transcribe(ctx context.Context, req *TranscribeRequest) (*types.Transcript, error)
	Close() error
}

// TTSProvider 语音合成供应商接口
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error)
	Close() error
}

// TranscribeRequest 语音识别请求
type TranscribeRequest struct {
	AudioB64     string `json:"audio_b64,omitempty"` // base64 编码的音频数据
	AudioURL     string `json:"audio_url,omitempty"` // 或远端音频地址
	LanguageHint string `json:"language_hint,omitempty"`
}

// SynthesizeRequest 语音合成请求
type SynthesizeRequest struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	VoiceID      string  `json:"voice_id"`
	Codec        string  `json:"codec,omitempty"`
	SampleRateHz int     `json:"sample_rate_hz,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	Pace         float64 `json:"pace,omitempty"`
	Loudness     float64 `json:"loudness,omitempty"`
}

// SynthesizeResult 语音合成结果
type SynthesizeResult struct {
	AudioB64     string        `json:"audio_b64"`
	Codec        string        `json:"codec"`
	SampleRateHz int           `json:"sample_rate_hz"`
	Latency      time.Duration `json:"-"`
	RequestID    string        `json:"request_id,omitempty"`
}
