package models

import "time"

// Visitor is the minimal visitor record the engine needs: identity,
// contactability and the attribute map audience rules evaluate against.
type Visitor struct {
	ID                 string         `json:"id"`
	WorkspaceID        string         `json:"workspace_id" validate:"required"`
	Email              string         `json:"email,omitempty"`
	PushToken          string         `json:"push_token,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	LastConversationID string         `json:"last_conversation_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// WorkspaceInfo carries the workspace-level channel facts the readiness
// validator needs. The surrounding platform owns workspace settings; callers
// supply a snapshot.
type WorkspaceInfo struct {
	ID                  string `json:"id"`
	EmailChannelEnabled bool   `json:"email_channel_enabled"`
	HasPushTokens       bool   `json:"has_push_tokens"`
}
