// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package guardrail implements the three-layer content-safety engine.

Layer 1 checks user input against a deny-list before any model call.
Layer 2 injects safety instructions into the model's system prompt.
Layer 3 validates the model's output for PII leaks, excessive length
and deny-list matches. A blocked check returns a canned safe response
so the conversation can continue; the engine itself never persists
anything — violations are forwarded to a ViolationSink.
*/
package guardrail
