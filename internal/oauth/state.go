package oauth

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/leadloft/leadloft/internal/errors"
)

// State is the opaque value round-tripped through the provider's
// consent screen. It carries the agent identity so the callback can tie
// the returned code back to the agent that started the flow.
type State struct {
	AgentID string `json:"agent_id"`
	Nonce   string `json:"nonce"`
}

// EncodeState packs the agent ID and a fresh nonce into a URL-safe
// state string.
func EncodeState(agentID string) (string, error) {
	payload, err := json.Marshal(State{
		AgentID: agentID,
		Nonce:   uuid.New().String(),
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeState unpacks a state string produced by EncodeState.
func DecodeState(raw string) (*State, error) {
	if raw == "" {
		return nil, &errors.ErrInvalidState{Reason: "empty state"}
	}
	payload, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, &errors.ErrInvalidState{Reason: "invalid encoding"}
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, &errors.ErrInvalidState{Reason: "invalid payload"}
	}
	if state.AgentID == "" {
		return nil, &errors.ErrInvalidState{Reason: "missing agent id"}
	}
	return &state, nil
}
