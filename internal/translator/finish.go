package translator

import (
	"strings"

	"hf-gateway/internal/models"
)

// MapFinishReason maps upstream finish-reason vocabulary onto the client enum.
// Unrecognized reasons become "stop".
func MapFinishReason(reason string) models.FinishReason {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "stop", "eos", "eos_token", "stop_sequence", "end_turn":
		return models.FinishStop
	case "length", "max_tokens", "model_length":
		return models.FinishLength
	case "content_filter":
		return models.FinishContentFilter
	case "tool_calls", "function_call", "tool_use":
		return models.FinishToolCalls
	default:
		return models.FinishStop
	}
}
