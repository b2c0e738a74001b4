package models

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/moyoez/readersync/types"
)

// ResolveRequest carries manual choices keyed by conflict id.
type ResolveRequest struct {
	Choices map[string]types.ResolutionChoice `json:"choices"`
}

// SyncAccepted is returned when a background sync has been started.
type SyncAccepted struct {
	DeviceID string                           `json:"deviceId"`
	Strategy types.ConflictResolutionStrategy `json:"strategy"`
	// After is the status seq at acceptance; later terminal statuses belong to this sync.
	After uint64 `json:"after"`
}

// ParseAnnounce parses the body of POST /register.
func ParseAnnounce(body []byte) (*types.AnnounceMessage, error) {
	var msg types.AnnounceMessage
	if err := sonic.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	if msg.DeviceID == "" {
		return nil, errors.New("missing deviceId")
	}
	return &msg, nil
}

// ParseResolveRequest parses and validates a manual resolution body.
func ParseResolveRequest(body []byte) (*ResolveRequest, error) {
	var req ResolveRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	// an empty object skips every conflict; a missing one is a client error
	if req.Choices == nil {
		return nil, errors.New("no choices")
	}
	for id, choice := range req.Choices {
		switch choice {
		case types.ChooseLocal, types.ChooseRemote:
		default:
			return nil, fmt.Errorf("invalid choice %q for conflict %s", choice, id)
		}
	}
	return &req, nil
}
