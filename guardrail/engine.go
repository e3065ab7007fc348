package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Layer labels identify where a violation was detected.
const (
	LayerPreLLM  = "pre_llm"
	LayerPrompt  = "llm_prompt"
	LayerPostLLM = "post_llm"
)

// Violation represents a single detected guardrail violation.
type Violation struct {
	Layer    string `json:"layer"`
	RuleType string `json:"rule_type"`
	Severity string `json:"severity"` // low, medium, high
	Message  string `json:"message"`
	Blocked  bool   `json:"blocked"`
}

// Result is the outcome of a guardrail check. It is produced fresh on
// every call and never persisted by the engine itself.
type Result struct {
	Passed       bool        `json:"passed"`
	Violations   []Violation `json:"violations"`
	SafeResponse string      `json:"safe_response,omitempty"`
}

// ViolationSink receives violations for logging and persistence.
// Implementations live outside the engine; the engine stays side-effect-free.
type ViolationSink interface {
	RecordViolation(ctx context.Context, v Violation, context map[string]string) error
}

// defaultDenyList covers medical/legal/financial-advice cues, weapon and
// drug instructions, and PII-solicitation phrases.
var defaultDenyList = []string{
	// Medical advice
	"medical advice",
	"prescribe medication",
	"diagnose disease",
	"treatment for",
	"cure for cancer",
	// Legal advice
	"legal advice",
	"sue someone",
	"write a contract",
	"legal representation",
	// Financial advice
	"financial advice",
	"invest my money",
	"stock tips",
	"crypto investment",
	// Harmful content
	"how to make bomb",
	"how to make a bomb",
	"how to make weapon",
	"illegal drugs",
	"hack into",
	// Personal information requests
	"credit card number",
	"social security number",
	"bank account details",
}

var piiPatterns = map[string]*regexp.Regexp{
	"credit_card": regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"phone":       regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
}

const inputSafeResponse = "I'm here to help with questions about our products and services. " +
	"I'm not able to provide medical, legal, or financial advice, " +
	"or assist with harmful requests."

const outputSafeResponse = "I apologize, but I cannot provide that information. " +
	"Is there something else about our products or services I can help you with?"

// Engine runs the three guardrail layers. All checks are pure functions
// over the configured rule set; the engine holds no mutable state.
type Engine struct {
	enabled          bool
	denyList         []string
	maxResponseWords int
	sink             ViolationSink
	logger           *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDenyList replaces the built-in deny-list.
func WithDenyList(keywords []string) Option {
	return func(e *Engine) { e.denyList = keywords }
}

// WithMaxResponseWords sets the post-model response length ceiling.
func WithMaxResponseWords(n int) Option {
	return func(e *Engine) { e.maxResponseWords = n }
}

// WithSink sets the violation sink.
func WithSink(sink ViolationSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithEnabled toggles all checks. A disabled engine passes everything.
func WithEnabled(enabled bool) Option {
	return func(e *Engine) { e.enabled = enabled }
}

// NewEngine creates a guardrail engine with the built-in rule set.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		enabled:          true,
		denyList:         defaultDenyList,
		maxResponseWords: 150,
		logger:           logger.With(zap.String("component", "guardrail")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckInput runs layer 1: substring matching of user input against the
// deny-list. All matches are collected, not just the first.
func (e *Engine) CheckInput(input string) Result {
	if !e.enabled {
		return Result{Passed: true}
	}

	var violations []Violation
	lowered := strings.ToLower(input)
	for _, keyword := range e.denyList {
		if strings.Contains(lowered, keyword) {
			violations = append(violations, Violation{
				Layer:    LayerPreLLM,
				RuleType: "blocked_keyword",
				Severity: "high",
				Message:  fmt.Sprintf("input contains blocked keyword: %s", keyword),
				Blocked:  true,
			})
		}
	}

	if len(violations) > 0 {
		return Result{Passed: false, Violations: violations, SafeResponse: inputSafeResponse}
	}
	return Result{Passed: true}
}

// PromptInstructions returns layer 2: the guardrail fragment injected
// into the model's system prompt. Pure data, no I/O.
func (e *Engine) PromptInstructions() string {
	if !e.enabled {
		return ""
	}
	return promptInstructions
}

const promptInstructions = `
STRICT GUARDRAILS - YOU MUST FOLLOW THESE RULES:

1. SCOPE LIMITATION:
   - ONLY answer questions about our products, services, and company information
   - Politely decline questions outside this scope

2. PROHIBITED CONTENT:
   - NEVER provide medical, legal, or financial advice
   - NEVER generate harmful, dangerous, or illegal content
   - NEVER provide instructions for weapons, drugs, or illegal activities
   - NEVER assist with hacking, fraud, or other illegal activities

3. PRIVACY PROTECTION:
   - NEVER generate, request, or share Personal Identifiable Information (PII)
   - NEVER share credit card numbers, SSNs, passwords, or account details
   - NEVER create fake identities or credentials

4. RESPONSE GUIDELINES:
   - Keep responses concise (under 100 words for voice)
   - Be professional, helpful, and respectful
   - If you don't know something, say so - don't make up information
   - If asked something prohibited, politely explain what you CAN help with

If a request violates these guardrails, respond with:
"I'm here to help with questions about our products and services. I'm not able to assist with [specific request type].
Is there something else I can help you with?"
`

// CheckOutput runs layer 3: PII detection, response-length ceiling, and
// deny-list re-application against the model's own output.
func (e *Engine) CheckOutput(response string) Result {
	if !e.enabled {
		return Result{Passed: true}
	}

	var violations []Violation

	for piiType, pattern := range piiPatterns {
		if pattern.MatchString(response) {
			violations = append(violations, Violation{
				Layer:    LayerPostLLM,
				RuleType: "pii_detected",
				Severity: "high",
				Message:  fmt.Sprintf("response contains %s", piiType),
				Blocked:  true,
			})
		}
	}

	if words := len(strings.Fields(response)); words > e.maxResponseWords {
		violations = append(violations, Violation{
			Layer:    LayerPostLLM,
			RuleType: "response_too_long",
			Severity: "medium",
			Message:  fmt.Sprintf("response is %d words (max %d)", words, e.maxResponseWords),
			Blocked:  true,
		})
	}

	lowered := strings.ToLower(response)
	for _, keyword := range e.denyList {
		if strings.Contains(lowered, keyword) {
			violations = append(violations, Violation{
				Layer:    LayerPostLLM,
				RuleType: "prohibited_content",
				Severity: "high",
				Message:  fmt.Sprintf("response contains prohibited content: %s", keyword),
				Blocked:  true,
			})
		}
	}

	if len(violations) > 0 {
		return Result{Passed: false, Violations: violations, SafeResponse: outputSafeResponse}
	}
	return Result{Passed: true}
}

// Report forwards violations to the configured sink. Sink failures are
// logged and swallowed so reporting never disturbs the pipeline.
func (e *Engine) Report(ctx context.Context, violations []Violation, context map[string]string) {
	if e.sink == nil {
		return
	}
	for _, v := range violations {
		if err := e.sink.RecordViolation(ctx, v, context); err != nil {
			e.logger.Warn("failed to record guardrail violation",
				zap.String("layer", v.Layer),
				zap.String("rule_type", v.RuleType),
				zap.Error(err))
		}
	}
}
