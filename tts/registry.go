package tts

import (
	"sync"
)

// Voice 一个可用的合成声音及其语言能力
type Voice struct {
	Provider        string   `json:"provider"`
	VoiceID         string   `json:"voice_id"`
	DisplayName     string   `json:"display_name"`
	Gender          string   `json:"gender"`
	Languages       []string `json:"languages"`
	Characteristics []string `json:"characteristics,omitempty"`
}

// SupportsLanguage 判断声音是否支持给定语言
func (v Voice) SupportsLanguage(languageCode string) bool {
	for _, lang := range v.Languages {
		if lang == languageCode {
			return true
		}
	}
	return false
}

// Registry 跨供应商的声音注册表.
// 按注册顺序维护声音列表，保证回退选择的确定性。
type Registry struct {
	mu     sync.RWMutex
	voices map[string]Voice
	order  []string
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{voices: make(map[string]Voice)}
}

func voiceKey(provider, voiceID string) string {
	return provider + ":" + voiceID
}

// Register 注册声音，同键覆盖但保留原有顺序
func (r *Registry) Register(v Voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := voiceKey(v.Provider, v.VoiceID)
	if _, exists := r.voices[key]; !exists {
		r.order = append(r.order, key)
	}
	r.voices[key] = v
}

// Unregister 移除声音
func (r *Registry) Unregister(provider, voiceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := voiceKey(provider, voiceID)
	if _, exists := r.voices[key]; !exists {
		return
	}
	delete(r.voices, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get 查找声音
func (r *Registry) Get(provider, voiceID string) (Voice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.voices[voiceKey(provider, voiceID)]
	return v, ok
}

// VoicesForLanguage 按注册顺序返回某供应商支持给定语言的声音
func (r *Registry) VoicesForLanguage(provider, languageCode string) []Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Voice
	for _, key := range r.order {
		v := r.voices[key]
		if v.Provider == provider && v.SupportsLanguage(languageCode) {
			out = append(out, v)
		}
	}
	return out
}

// allIndianLanguages Sarvam 主力声音覆盖的语言
var allIndianLanguages = []string{
	"hi-IN", "en-IN", "bn-IN", "gu-IN", "ta-IN",
	"te-IN", "ml-IN", "kn-IN", "mr-IN", "pa-IN",
}

// DefaultRegistry 返回预置了内置声音的注册表
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, v := range []Voice{
		{Provider: "sarvam", VoiceID: "anushka", DisplayName: "Anushka", Gender: "female",
			Languages: allIndianLanguages, Characteristics: []string{"warm", "natural"}},
		{Provider: "sarvam", VoiceID: "abhilash", DisplayName: "Abhilash", Gender: "male",
			Languages: allIndianLanguages, Characteristics: []string{"confident"}},
		{Provider: "sarvam", VoiceID: "manisha", DisplayName: "Manisha", Gender: "female",
			Languages: []string{"hi-IN", "en-IN"}, Characteristics: []string{"clear"}},
		{Provider: "sarvam", VoiceID: "vidya", DisplayName: "Vidya", Gender: "female",
			Languages: []string{"ta-IN", "en-IN"}, Characteristics: []string{"professional"}},
		{Provider: "sarvam", VoiceID: "arya", DisplayName: "Arya", Gender: "female",
			Languages: []string{"bn-IN", "en-IN"}, Characteristics: []string{"friendly"}},
		{Provider: "sarvam", VoiceID: "karun", DisplayName: "Karun", Gender: "male",
			Languages: []string{"ta-IN", "en-IN"}, Characteristics: []string{"calm"}},
		{Provider: "sarvam", VoiceID: "hitesh", DisplayName: "Hitesh", Gender: "male",
			Languages: []string{"gu-IN", "en-IN"}, Characteristics: []string{"energetic"}},
		{Provider: "elevenlabs", VoiceID: "rachel", DisplayName: "Rachel", Gender: "female",
			Languages: []string{"en-IN", "en-US"}, Characteristics: []string{"premium", "natural"}},
		{Provider: "elevenlabs", VoiceID: "bella", DisplayName: "Bella", Gender: "female",
			Languages: []string{"en-IN", "en-US"}, Characteristics: []string{"expressive"}},
		{Provider: "elevenlabs", VoiceID: "adam", DisplayName: "Adam", Gender: "male",
			Languages: []string{"en-IN", "en-US"}, Characteristics: []string{"premium"}},
	} {
		r.Register(v)
	}
	return r
}
