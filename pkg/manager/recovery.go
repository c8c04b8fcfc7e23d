package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Recover reconciles persisted state with the daemons after a restart.
// Sessions interrupted mid-provisioning are rolled back to FAILED.
// ACTIVE sessions keep running only when target, boot script and DHCP
// reservation all still hold; otherwise the normal stop path runs with a
// reconciliation reason. Interrupted stops are finished, interrupted
// conversions requeued, stranded uploads failed. Runs before the API
// starts serving.
func (m *Manager) Recover(ctx context.Context) error {
	logger := log.WithComponent("recovery")
	m.publish(events.EventRecoveryStarted, nil, "reconciling persisted state with daemons")

	requeued, err := m.images.RequeueInterrupted()
	if err != nil {
		logger.Error().Err(err).Msg("Requeueing interrupted conversions failed")
	}
	staleUploads, err := m.images.FailInterruptedUploads()
	if err != nil {
		logger.Error().Err(err).Msg("Failing interrupted uploads failed")
	}

	sessions, err := m.store.NonTerminalSessions()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := m.recoverSession(ctx, sess); err != nil {
			log.WithSessionID(sess.ID).Error().Err(err).Msg("Session reconciliation failed")
		}
	}

	logger.Info().
		Int("sessions", len(sessions)).
		Int("conversions", requeued).
		Int("uploads", staleUploads).
		Msg("Recovery done")
	m.publish(events.EventRecoveryDone, nil, fmt.Sprintf("%d session(s) reconciled, %d conversion(s) requeued, %d upload(s) failed", len(sessions), requeued, staleUploads))
	return nil
}

func (m *Manager) recoverSession(ctx context.Context, sess *types.Session) error {
	logger := log.WithSessionID(sess.ID)

	machine, err := m.store.GetMachine(sess.MachineID)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return err
		}
		// Without the machine row the derived names are gone; nothing
		// can be torn down.
		logger.Error().Str("machine_id", sess.MachineID).Msg("Session references a missing machine")
		return m.endSession(sess, nil, types.SessionStatusFailed, "recovery: machine record missing", nil)
	}

	var target *types.Target
	if sess.TargetID != "" {
		target, err = m.store.GetTarget(sess.TargetID)
		if err != nil {
			if !errdefs.IsNotFound(err) {
				return err
			}
			target = nil
		}
	}

	switch sess.Status {
	case types.SessionStatusRequested, types.SessionStatusProvisioning:
		logger.Warn().Str("status", string(sess.Status)).Msg("Rolling back interrupted provisioning")
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		residue := m.teardown(dctx, machine, target)
		reason := "recovery: interrupted provisioning"
		if len(residue) > 0 {
			reason += "; teardown incomplete: " + strings.Join(residue, "; ")
		}
		if err := m.endSession(sess, target, types.SessionStatusFailed, reason, residue); err != nil {
			return err
		}
		m.publishSession(events.EventSessionFailed, sess, reason)
		return nil

	case types.SessionStatusActive:
		reason, intact := m.verifyActive(ctx, machine, target)
		if intact {
			logger.Info().Msg("Session intact, left running")
			return nil
		}
		logger.Warn().Str("reason", reason).Msg("Session postconditions no longer hold")
		err := m.store.WithTx(func(tx *storage.Tx) error {
			s, err := tx.ClaimSessionStatus(sess.ID, types.SessionStatusActive, types.SessionStatusStopping)
			if err != nil {
				return err
			}
			sess = s
			return nil
		})
		if err != nil {
			return err
		}
		m.publishSession(events.EventSessionStopping, sess, reason)
		_, err = m.finishStop(ctx, sess, machine, target, reason)
		return err

	case types.SessionStatusStopping:
		logger.Warn().Msg("Finishing interrupted stop")
		_, err := m.finishStop(ctx, sess, machine, target, "recovery: completed interrupted stop")
		return err
	}
	return nil
}

// verifyActive checks the three postconditions a provisioned session
// rests on. The first one missing names the reconciliation reason.
func (m *Manager) verifyActive(ctx context.Context, machine *types.Machine, target *types.Target) (string, bool) {
	if target == nil {
		return "reconciliation: target row missing", false
	}
	status, _, err := m.iscsi.LiveStatus(ctx, target)
	if err != nil || status != types.TargetStatusActive {
		return "reconciliation: target not active", false
	}
	if !m.scripts.HasScript(machine) {
		return "reconciliation: missing boot script", false
	}
	present, err := m.dhcp.HasReservation(machine.Hostname)
	if err != nil || !present {
		return "reconciliation: missing dhcp reservation", false
	}
	return "", true
}

// endSession records a terminal state without running any teardown.
func (m *Manager) endSession(sess *types.Session, target *types.Target, status types.SessionStatus, reason string, residue []string) error {
	now := time.Now().UTC()
	return m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetSession(sess.ID)
		if err != nil {
			return err
		}
		s.Status = status
		s.EndedAt = now
		s.EndReason = reason
		if err := tx.PutSession(s); err != nil {
			return err
		}
		*sess = *s
		if target == nil {
			return nil
		}
		t, err := tx.GetTarget(target.ID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return nil
			}
			return err
		}
		t.Status = types.TargetStatusStopped
		if len(residue) > 0 {
			t.ErrorMessage = strings.Join(residue, "; ")
		}
		t.UpdatedAt = now
		return tx.PutTarget(t)
	})
}
