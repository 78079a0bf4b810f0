package translator

import (
	"strings"

	"hf-gateway/internal/models"
)

// TranslateRequest maps a validated client request onto the upstream format.
// Messages are copied in order with every field untouched; optional
// parameters are carried only when the client set them.
func (t *Translator) TranslateRequest(req models.ClientRequest) models.UpstreamRequest {
	messages := make([]models.ChatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = models.ChatMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			Name:      msg.Name,
			Reasoning: msg.Reasoning,
		}
	}

	var stop []string
	if len(req.Stop) > 0 {
		stop = append([]string(nil), req.Stop...)
	}

	var logitBias map[string]float64
	if len(req.LogitBias) > 0 {
		logitBias = make(map[string]float64, len(req.LogitBias))
		for k, v := range req.LogitBias {
			logitBias[k] = v
		}
	}

	return models.UpstreamRequest{
		Model:            t.UpstreamModel(req.Model),
		Messages:         messages,
		Stream:           req.Stream,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		N:                req.N,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             stop,
		LogitBias:        logitBias,
		User:             req.User,
		Seed:             req.Seed,
	}
}

// UpstreamModel resolves the upstream-qualified identifier for a client model.
func (t *Translator) UpstreamModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return t.defaultModel
	}
	if target, ok := t.aliases[model]; ok {
		return target
	}
	return model
}
