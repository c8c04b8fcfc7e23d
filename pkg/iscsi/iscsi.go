package iscsi

import (
	"context"
	"time"

	"github.com/moby/locker"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// compensateTimeout bounds the reverse unwind after a failed create. The
// unwind runs on a detached context: a caller timeout must not leave a
// half-built target behind.
const compensateTimeout = 30 * time.Second

// TargetHandle describes a materialized target. The caller persists it;
// nothing here touches the store.
type TargetHandle struct {
	IQN          string
	InitiatorIQN string
	Backstore    string
	PortalIP     string
	PortalPort   int
	LUNID        int
}

// Manager provisions per-machine iSCSI targets through a Configurator.
// Operations on the same IQN are serialized with a per-key lock.
type Manager struct {
	cfg   config.ISCSI
	conf  Configurator
	locks *locker.Locker
}

// NewManager returns a manager using conf to reach the daemon.
func NewManager(cfg config.ISCSI, conf Configurator) *Manager {
	return &Manager{
		cfg:   cfg,
		conf:  conf,
		locks: locker.New(),
	}
}

// IQNFor derives the target IQN: <prefix>:target-<machine-slug>.
func (m *Manager) IQNFor(machine *types.Machine) string {
	return m.cfg.IQNPrefix + ":target-" + types.MachineSlug(machine.Hostname)
}

// InitiatorIQNFor derives the initiator IQN the machine must present:
// <prefix>:initiator-<mac-without-separators>.
func (m *Manager) InitiatorIQNFor(machine *types.Machine) string {
	return m.cfg.IQNPrefix + ":initiator-" + types.MACCompact(machine.MACAddress)
}

// BackstoreName is the fileio backstore for a machine's system disk.
func BackstoreName(machine *types.Machine) string {
	return "machine_" + machine.ID
}

// CreateFor builds the complete export of image to machine: backstore,
// target, LUN 0, initiator ACL (plus CHAP when configured), portal. All
// five steps must succeed; on any failure every completed step is undone
// in reverse order and the originating error returned. The running config
// is persisted with saveconfig once the target is up.
func (m *Manager) CreateFor(ctx context.Context, machine *types.Machine, image *types.Image) (*TargetHandle, error) {
	handle := &TargetHandle{
		IQN:          m.IQNFor(machine),
		InitiatorIQN: m.InitiatorIQNFor(machine),
		Backstore:    BackstoreName(machine),
		PortalIP:     m.cfg.PortalIP,
		PortalPort:   m.cfg.PortalPort,
		LUNID:        0,
	}
	m.locks.Lock(handle.IQN)
	defer m.locks.Unlock(handle.IQN)

	logger := log.WithTargetIQN(handle.IQN)

	var undo []func(context.Context) error
	fail := func(cause error) (*TargetHandle, error) {
		if len(undo) == 0 {
			return nil, cause
		}
		logger.Warn().Err(cause).Int("steps", len(undo)).Msg("Target creation failed, unwinding")
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](cleanupCtx); err != nil {
				logger.Error().Err(err).Msg("Unwind step failed, daemon may hold residue")
			}
		}
		if err := m.conf.SaveConfig(cleanupCtx); err != nil {
			logger.Error().Err(err).Msg("saveconfig after unwind failed")
		}
		return nil, cause
	}

	// Backstore: reuse an existing declaration only when it points at the
	// same backing file.
	existingPath, exists, err := m.conf.BackstorePath(ctx, handle.Backstore)
	if err != nil {
		return fail(err)
	}
	if exists {
		if existingPath != image.FilePath {
			return fail(errors.Wrapf(errdefs.ErrConflict,
				"backstore %s bound to %s, want %s", handle.Backstore, existingPath, image.FilePath))
		}
	} else {
		if err := m.conf.CreateBackstore(ctx, handle.Backstore, image.FilePath); err != nil {
			return fail(err)
		}
		undo = append(undo, func(c context.Context) error {
			return m.conf.DeleteBackstore(c, handle.Backstore)
		})
	}

	if err := m.conf.CreateTarget(ctx, handle.IQN); err != nil {
		return fail(err)
	}
	// Deleting the target also removes its LUNs, ACLs and portals, so the
	// later steps need no undo entries of their own.
	undo = append(undo, func(c context.Context) error {
		return m.conf.DeleteTarget(c, handle.IQN)
	})

	if err := m.conf.CreateLUN(ctx, handle.IQN, handle.Backstore); err != nil {
		return fail(err)
	}

	if err := m.conf.CreateACL(ctx, handle.IQN, handle.InitiatorIQN); err != nil {
		return fail(err)
	}
	if m.cfg.CHAPUser != "" {
		if err := m.conf.SetCHAP(ctx, handle.IQN, handle.InitiatorIQN, m.cfg.CHAPUser, m.cfg.CHAPSecret); err != nil {
			return fail(err)
		}
	}

	if err := m.conf.CreatePortal(ctx, handle.IQN, handle.PortalIP, handle.PortalPort); err != nil {
		return fail(err)
	}

	if err := m.conf.SaveConfig(ctx); err != nil {
		return fail(err)
	}

	logger.Info().
		Str("machine_id", machine.ID).
		Str("image_id", image.ID).
		Str("portal", handle.PortalIP).
		Msg("Target created")
	return handle, nil
}

// Destroy removes the target and its backstore. Absent components are
// skipped: the operation succeeds as long as no target with this IQN
// remains afterwards.
func (m *Manager) Destroy(ctx context.Context, iqn, backstore string) error {
	m.locks.Lock(iqn)
	defer m.locks.Unlock(iqn)

	exists, err := m.conf.TargetExists(ctx, iqn)
	if err != nil {
		return err
	}
	if exists {
		if err := m.conf.DeleteTarget(ctx, iqn); err != nil {
			return err
		}
	}

	_, bsExists, err := m.conf.BackstorePath(ctx, backstore)
	if err != nil {
		return err
	}
	if bsExists {
		if err := m.conf.DeleteBackstore(ctx, backstore); err != nil {
			return err
		}
	}

	if err := m.conf.SaveConfig(ctx); err != nil {
		return err
	}
	logger := log.WithTargetIQN(iqn)
	logger.Info().Msg("Target destroyed")
	return nil
}

// LiveStatus synthesizes the target's state from the daemon, ignoring
// whatever status the store holds: present and portal-bound is ACTIVE,
// absent is STOPPED, present without a portal is ERROR. The second return
// is the count of logged-in initiators.
func (m *Manager) LiveStatus(ctx context.Context, target *types.Target) (types.TargetStatus, int, error) {
	st, err := m.conf.TargetState(ctx, target.IQN, target.InitiatorIQN)
	if err != nil {
		return types.TargetStatusError, 0, err
	}
	switch {
	case !st.Present:
		return types.TargetStatusStopped, 0, nil
	case st.PortalBound:
		return types.TargetStatusActive, st.Initiators, nil
	default:
		return types.TargetStatusError, st.Initiators, nil
	}
}
