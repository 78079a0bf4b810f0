package translator

import (
	"errors"
	"fmt"

	"hf-gateway/internal/models"
)

// ErrMalformedUpstreamResponse reports an upstream payload that cannot be
// expressed in the client format.
var ErrMalformedUpstreamResponse = errors.New("malformed upstream response")

// TranslateResponse maps a non-streamed upstream reply onto the client
// format. clientModel is echoed back when set, otherwise the upstream model
// is used. The upstream id is reused when present; a fresh one is generated
// otherwise, which is the only way two calls on the same payload differ.
func (t *Translator) TranslateResponse(resp models.UpstreamResponse, clientModel string) (models.ClientResponse, error) {
	if len(resp.Choices) == 0 {
		return models.ClientResponse{}, fmt.Errorf("%w: no choices", ErrMalformedUpstreamResponse)
	}

	id := resp.ID
	if id == "" {
		id = t.newID()
	}
	created := resp.Created
	if created == 0 {
		created = t.now().Unix()
	}
	model := clientModel
	if model == "" {
		model = resp.Model
	}

	choices := make([]models.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, models.Choice{
			Index:        c.Index,
			Message:      toClientMessage(c.Message),
			FinishReason: MapFinishReason(c.FinishReason),
		})
	}

	var usage *models.Usage
	if resp.Usage != nil {
		u := *resp.Usage
		usage = &u
	}

	return models.ClientResponse{
		ID:      id,
		Object:  models.ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: choices,
		Usage:   usage,
	}, nil
}

func toClientMessage(msg models.UpstreamMessage) models.ChatMessage {
	role := models.Role(msg.Role)
	if role == "" {
		role = models.RoleAssistant
	}

	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}
	content := msg.Content
	if reasoning == "" {
		reasoning, content = SplitReasoning(msg.Content)
	}

	return models.ChatMessage{
		Role:      role,
		Content:   content,
		Reasoning: reasoning,
	}
}
