package storage

import (
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Store defines the interface for control-plane state storage.
// Implemented by the BoltDB-backed store in this package.
type Store interface {
	// Images
	CreateImage(img *types.Image) error
	GetImage(id string) (*types.Image, error)
	GetImageByName(name string) (*types.Image, error)
	ListImages() ([]*types.Image, error)
	ListImagesByStatus(status types.ImageStatus) ([]*types.Image, error)
	UpdateImage(img *types.Image) error
	ClaimImageStatus(id string, from, to types.ImageStatus) (*types.Image, error)

	// Machines
	CreateMachine(m *types.Machine) error
	GetMachine(id string) (*types.Machine, error)
	GetMachineByMAC(mac string) (*types.Machine, error)
	ListMachines() ([]*types.Machine, error)
	UpdateMachine(m *types.Machine) error
	DeleteMachine(id string) error

	// Targets
	CreateTarget(t *types.Target) error
	GetTarget(id string) (*types.Target, error)
	ListTargets() ([]*types.Target, error)
	LiveTargetForMachine(machineID string) (*types.Target, error)
	LiveTargetsForImage(imageID string) ([]*types.Target, error)
	UpdateTarget(t *types.Target) error
	ClaimTargetStatus(id string, from, to types.TargetStatus) (*types.Target, error)

	// Sessions
	CreateSession(s *types.Session) error
	GetSession(id string) (*types.Session, error)
	ListSessions() ([]*types.Session, error)
	ListSessionsByMachine(machineID string) ([]*types.Session, error)
	NonTerminalSessions() ([]*types.Session, error)
	ActiveSessionForMachine(machineID string) (*types.Session, error)
	UpdateSession(s *types.Session) error
	ClaimSessionStatus(id string, from, to types.SessionStatus) (*types.Session, error)

	// Users
	CreateUser(u *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByToken(token string) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	DeleteUser(id string) error

	// Conversion queue
	EnqueueConvertJob(job *types.ConvertJob) error
	GetConvertJob(imageID string) (*types.ConvertJob, error)
	UpdateConvertJob(job *types.ConvertJob) error
	ListConvertJobsByStatus(status types.ConvertJobStatus) ([]*types.ConvertJob, error)
	ClaimConvertJob(imageID string, from, to types.ConvertJobStatus) (*types.ConvertJob, error)

	// WithTx runs fn inside a single writable transaction. All multi-row
	// state changes go through here; fn returning an error rolls
	// everything back.
	WithTx(fn func(tx *Tx) error) error

	// Utility
	Close() error
}
