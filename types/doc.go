// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the VoiceFlow
orchestrator.

types is the lowest-level common package and depends on no other
internal package. Stage labels, turn outcomes, transcripts, stage
latency records and the structured error system live here so that the
pipeline, cache, cost and speech packages can share them without
import cycles.

# Core types

  - Stage / Outcome     — pipeline stage labels and turn outcomes
  - Transcript          — recognized speech with per-segment timings
  - StageLatency        — duration of a single pipeline stage
  - Error / ErrorCode   — structured errors with HTTP status,
    Retryable and Provider markers
*/
package types
