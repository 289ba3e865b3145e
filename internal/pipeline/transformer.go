// --- File: internal/pipeline/transformer.go ---
// Package pipeline adapts the inbound Pub/Sub stream to the receiver.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// InboundEvent is one decoded transport event: either a data message or a
// rotated registration token.
type InboundEvent struct {
	Data     map[string]string
	NewToken string
}

// envelope is the wrapped payload shape: {"data": {...}} or {"newToken": "..."}.
type envelope struct {
	Data     map[string]string `json:"data"`
	NewToken string            `json:"newToken"`
}

// InboundEventTransformer is a dataflow Transformer that decodes a raw
// payload into an InboundEvent. The payload is either an envelope or a flat
// JSON object of string fields.
func InboundEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*InboundEvent, bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &probe); err != nil {
		// skip=true so the StreamingService can handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal inbound event from message %s: %w", msg.ID, err)
	}

	_, hasData := probe["data"]
	_, hasToken := probe["newToken"]
	if hasData || hasToken {
		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return nil, true, fmt.Errorf("invalid inbound envelope in message %s: %w", msg.ID, err)
		}
		return &InboundEvent{Data: env.Data, NewToken: env.NewToken}, false, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(msg.Payload, &flat); err != nil {
		return nil, true, fmt.Errorf("inbound data in message %s must be string fields: %w", msg.ID, err)
	}
	return &InboundEvent{Data: flat}, false, nil
}
