package protocol

import (
	"context"

	"github.com/engageline/series/pkg/models"
)

// WorkspaceDirectory resolves workspace-level channel facts used by the
// readiness validator.
type WorkspaceDirectory interface {
	GetWorkspaceInfo(ctx context.Context, workspaceID string) (models.WorkspaceInfo, error)
}

// StaticWorkspaceDirectory serves fixed workspace facts. Development
// setups use a permissive one; tests inject specific shapes.
type StaticWorkspaceDirectory struct {
	Workspaces map[string]models.WorkspaceInfo

	// Default is returned for unknown workspaces.
	Default models.WorkspaceInfo
}

// NewPermissiveWorkspaceDirectory reports every channel available for
// every workspace.
func NewPermissiveWorkspaceDirectory() *StaticWorkspaceDirectory {
	return &StaticWorkspaceDirectory{
		Default: models.WorkspaceInfo{EmailChannelEnabled: true, HasPushTokens: true},
	}
}

func (d *StaticWorkspaceDirectory) GetWorkspaceInfo(_ context.Context, workspaceID string) (models.WorkspaceInfo, error) {
	if info, ok := d.Workspaces[workspaceID]; ok {
		return info, nil
	}

	info := d.Default
	info.ID = workspaceID

	return info, nil
}
