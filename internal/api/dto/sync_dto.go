package dto

import (
	"github.com/spec-kit/channel-service/internal/events"
	"github.com/spec-kit/channel-service/internal/service"
)

// StatArgs carries client-reported filesystem times.
type StatArgs struct {
	Ctime float64 `json:"ctime"`
	Mtime float64 `json:"mtime"`
	Size  uint64  `json:"size"`
}

// SyncCreateRequest payload for POST /vaults/:id/sync/create.
type SyncCreateRequest struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Extension  string    `json:"extension"`
	ObjectType string    `json:"object_type"`
	Stat       *StatArgs `json:"stat,omitempty"`
}

// SyncRenameRequest payload for POST /vaults/:id/sync/rename.
type SyncRenameRequest struct {
	SyncCreateRequest
	PreviousPath string `json:"previous_path"`
	PreviousName string `json:"previous_name"`
}

// ObjectArgs converts the request into service arguments.
func (r SyncCreateRequest) ObjectArgs() service.ObjectArgs {
	args := service.ObjectArgs{
		Path:       r.Path,
		Name:       r.Name,
		Extension:  r.Extension,
		ObjectType: events.ObjectType(r.ObjectType),
	}
	if r.Stat != nil {
		args.Stat = &events.Stat{Ctime: r.Stat.Ctime, Mtime: r.Stat.Mtime, Size: r.Stat.Size}
	}
	return args
}

// RenameArgs converts the request into service arguments.
func (r SyncRenameRequest) RenameArgs() service.RenameArgs {
	return service.RenameArgs{
		ObjectArgs:   r.SyncCreateRequest.ObjectArgs(),
		PreviousPath: r.PreviousPath,
		PreviousName: r.PreviousName,
	}
}
