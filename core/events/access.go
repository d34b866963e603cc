package events

import (
	"strings"

	"swapcore/core/types"
)

const (
	TypeAdminTransferred = "access.admin_transferred"
	TypeModulePaused     = "access.paused"
	TypeModuleUnpaused   = "access.unpaused"
)

type AdminTransferred struct {
	Previous [20]byte
	Current  [20]byte
}

func (AdminTransferred) EventType() string { return TypeAdminTransferred }

func (e AdminTransferred) Event() *types.Event {
	attrs := map[string]string{"current": identity(e.Current)}
	if e.Previous != ([20]byte{}) {
		attrs["previous"] = identity(e.Previous)
	}
	return &types.Event{Type: TypeAdminTransferred, Attributes: attrs}
}

type PauseToggled struct {
	Module string
	Paused bool
	By     [20]byte
}

func (e PauseToggled) EventType() string {
	if e.Paused {
		return TypeModulePaused
	}
	return TypeModuleUnpaused
}

func (e PauseToggled) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"module": strings.ToLower(strings.TrimSpace(e.Module)),
			"by":     identity(e.By),
		},
	}
}
