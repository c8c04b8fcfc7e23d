package manager

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// teardownTimeout bounds a whole compensation or stop sequence. Teardown
// runs on a context detached from the caller: a disconnect must not
// leave a half-torn boot chain behind.
const teardownTimeout = 2 * time.Minute

// progress records which provisioning steps completed, so the
// compensation path undoes exactly those, newest first.
type progress struct {
	handle      *iscsi.TargetHandle
	script      bool
	reservation bool
}

// StartSession provisions a diskless boot of image on machine. The claim
// is transactional: the session row and the target row are inserted
// together, so concurrent starts on one machine collapse to a single
// winner. Provisioning then runs outside the transaction in fixed order
// (iSCSI target, boot script, DHCP reservation, daemon reload) and the
// session is published ACTIVE. Any step failing undoes the completed
// steps in reverse order and leaves the session FAILED.
func (m *Manager) StartSession(ctx context.Context, machineID, imageID, actor string) (*types.Session, error) {
	timer := metrics.NewTimer()

	var (
		machine   *types.Machine
		image     *types.Image
		session   *types.Session
		target    *types.Target
		rejectErr error
	)
	err := m.store.WithTx(func(tx *storage.Tx) error {
		var err error
		machine, err = tx.GetMachine(machineID)
		if err != nil {
			return err
		}
		image, err = tx.GetImage(imageID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch {
		case machine.Status != types.MachineStatusActive:
			rejectErr = errors.Wrapf(errdefs.ErrPrecondition, "machine %s is %s, want ACTIVE", machine.Hostname, machine.Status)
		case !image.Status.Usable():
			rejectErr = errors.Wrapf(errdefs.ErrPrecondition, "image %s is %s, want READY", image.Name, image.Status)
		}
		if rejectErr != nil {
			session = &types.Session{
				ID:          uuid.New().String(),
				MachineID:   machineID,
				ImageID:     imageID,
				SessionType: types.SessionTypeDisklessBoot,
				Status:      types.SessionStatusRejected,
				StartedAt:   now,
				EndedAt:     now,
				EndReason:   rejectErr.Error(),
			}
			return tx.CreateSession(session)
		}

		session = &types.Session{
			ID:           uuid.New().String(),
			MachineID:    machineID,
			ImageID:      imageID,
			SessionType:  types.SessionTypeDisklessBoot,
			Status:       types.SessionStatusRequested,
			StartedAt:    now,
			LastActivity: now,
		}
		if err := tx.CreateSession(session); err != nil {
			return err
		}
		target = &types.Target{
			ID:           uuid.New().String(),
			IQN:          m.iscsi.IQNFor(machine),
			MachineID:    machineID,
			ImageID:      imageID,
			ImagePath:    image.FilePath,
			InitiatorIQN: m.iscsi.InitiatorIQNFor(machine),
			PortalIP:     m.cfg.ISCSI.PortalIP,
			PortalPort:   m.cfg.ISCSI.PortalPort,
			Status:       types.TargetStatusCreating,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateTarget(target); err != nil {
			return err
		}
		session.TargetID = target.ID
		session.Status = types.SessionStatusProvisioning
		return tx.PutSession(session)
	})
	if err != nil {
		return nil, err
	}
	if rejectErr != nil {
		log.WithSessionID(session.ID).Warn().
			Str("machine_id", machineID).
			Str("image_id", imageID).
			Str("actor", actor).
			Msg(rejectErr.Error())
		m.publishSession(events.EventSessionRejected, session, rejectErr.Error())
		return nil, rejectErr
	}

	logger := log.WithSessionID(session.ID)
	logger.Info().
		Str("machine_id", machineID).
		Str("image_id", imageID).
		Str("actor", actor).
		Msg("Session provisioning")
	m.publishSession(events.EventSessionRequested, session, "boot of "+image.Name+" on "+machine.Hostname+" requested by "+actor)
	m.publishSession(events.EventSessionProvisioning, session, "provisioning boot chain for "+machine.Hostname)

	p := &progress{}
	if err := m.provision(ctx, machine, image, target, p); err != nil {
		m.failSession(ctx, session, target, machine, p, err)
		return nil, err
	}

	err = m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.ClaimSessionStatus(session.ID, types.SessionStatusProvisioning, types.SessionStatusActive)
		if err != nil {
			return err
		}
		s.LastActivity = time.Now().UTC()
		if err := tx.PutSession(s); err != nil {
			return err
		}
		session = s
		t, err := tx.ClaimTargetStatus(target.ID, types.TargetStatusCreating, types.TargetStatusActive)
		if err != nil {
			return err
		}
		t.IQN = target.IQN
		t.InitiatorIQN = target.InitiatorIQN
		t.PortalIP = target.PortalIP
		t.PortalPort = target.PortalPort
		t.LUNID = target.LUNID
		t.UpdatedAt = session.LastActivity
		return tx.PutTarget(t)
	})
	if err != nil {
		m.failSession(ctx, session, target, machine, p, err)
		return nil, err
	}

	timer.ObserveDuration(metrics.SessionStartDuration)
	logger.Info().
		Str("iqn", target.IQN).
		Str("portal", target.PortalIP).
		Msg("Session active")
	m.publish(events.EventTargetCreated, map[string]string{
		"target_id":  target.ID,
		"machine_id": machine.ID,
		"iqn":        target.IQN,
	}, "target "+target.IQN+" exporting "+image.Name)
	m.publishSession(events.EventSessionActive, session, machine.Hostname+" booting "+image.Name)
	return session, nil
}

// provision runs the four external steps in order, recording each
// completion in p. The target handle fields are copied onto the row as
// soon as the daemon reports them: the boot script needs the portal and
// IQN.
func (m *Manager) provision(ctx context.Context, machine *types.Machine, image *types.Image, target *types.Target, p *progress) error {
	err := m.step(ctx, "create target", m.cfg.Timeouts.TargetCreate.Std(), func(sctx context.Context) error {
		handle, err := m.iscsi.CreateFor(sctx, machine, image)
		if err != nil {
			return err
		}
		p.handle = handle
		return nil
	})
	if err != nil {
		return err
	}
	target.IQN = p.handle.IQN
	target.InitiatorIQN = p.handle.InitiatorIQN
	target.PortalIP = p.handle.PortalIP
	target.PortalPort = p.handle.PortalPort
	target.LUNID = p.handle.LUNID

	err = m.step(ctx, "write boot script", m.cfg.Timeouts.TFTPWrite.Std(), func(context.Context) error {
		_, err := m.scripts.WriteScript(machine, target)
		return err
	})
	if err != nil {
		return err
	}
	p.script = true

	err = m.step(ctx, "add dhcp reservation", m.cfg.Timeouts.TFTPWrite.Std(), func(context.Context) error {
		return m.dhcp.AddReservation(machine)
	})
	if err != nil {
		return err
	}
	p.reservation = true

	return m.step(ctx, "reload dhcpd", m.cfg.Timeouts.DHCPReload.Std(), func(sctx context.Context) error {
		return m.reloadDHCP(sctx)
	})
}

// step runs one provisioning step under its deadline. Transient failures
// are retried once after a short backoff; everything else surfaces
// immediately. Overrunning the deadline is itself transient: the daemon
// may simply have been slow.
func (m *Manager) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	attempt := func() error {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(sctx)
		if err == nil {
			return nil
		}
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && !errdefs.IsTransient(err) {
			err = errors.Wrapf(errdefs.ErrTransient, "%s: deadline %s exceeded: %v", name, timeout, err)
		}
		log.WithComponent("manager").Warn().Err(err).Str("step", name).Msg("Provisioning step failed")
		if !errdefs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	return backoff.Retry(attempt, bo)
}

// failSession compensates the completed steps in reverse order and marks
// the session FAILED with the compound reason. The DHCP daemon needs no
// reload here: a failed reload already rolled the file back, and a
// failure before the reload step means the daemon never saw the edit.
func (m *Manager) failSession(ctx context.Context, session *types.Session, target *types.Target, machine *types.Machine, p *progress, cause error) {
	metrics.SessionCompensationsTotal.Inc()
	logger := log.WithSessionID(session.ID)
	logger.Warn().Err(cause).Msg("Provisioning failed, compensating")

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	var residue []string
	if p.reservation {
		if err := m.dhcp.RemoveReservation(machine); err != nil {
			residue = append(residue, "remove reservation: "+err.Error())
		}
	}
	if p.script {
		if err := m.scripts.RemoveScript(machine); err != nil {
			residue = append(residue, "remove boot script: "+err.Error())
		}
	}
	if p.handle != nil {
		if err := m.iscsi.Destroy(dctx, p.handle.IQN, p.handle.Backstore); err != nil {
			residue = append(residue, "destroy target: "+err.Error())
		}
	}

	reason := "provisioning failed: " + cause.Error()
	if len(residue) > 0 {
		reason += "; compensation incomplete: " + strings.Join(residue, "; ")
		logger.Error().Strs("residue", residue).Msg("Compensation left artefacts behind")
	}

	now := time.Now().UTC()
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetSession(session.ID)
		if err != nil {
			return err
		}
		s.Status = types.SessionStatusFailed
		s.EndedAt = now
		s.EndReason = reason
		if err := tx.PutSession(s); err != nil {
			return err
		}
		session = s
		t, err := tx.GetTarget(target.ID)
		if err != nil {
			return err
		}
		t.Status = types.TargetStatusStopped
		t.ErrorMessage = cause.Error()
		t.UpdatedAt = now
		return tx.PutTarget(t)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Recording session failure failed")
	}
	m.publishSession(events.EventSessionFailed, session, reason)
}

// StopSession tears down the session's boot chain and target, in reverse
// of the provisioning order. Stopping an already terminal session
// returns it unchanged. Cancellation is ignored once the session is
// claimed: a started stop runs to completion.
func (m *Manager) StopSession(ctx context.Context, sessionID, actor, reason string) (*types.Session, error) {
	var (
		session  *types.Session
		machine  *types.Machine
		target   *types.Target
		terminal *types.Session
	)
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if s.Status.Terminal() {
			terminal = s
			return nil
		}
		if s.Status != types.SessionStatusActive {
			return errors.Wrapf(errdefs.ErrConflict, "session %s is %s; wait for provisioning to settle", sessionID, s.Status)
		}
		session, err = tx.ClaimSessionStatus(sessionID, types.SessionStatusActive, types.SessionStatusStopping)
		if err != nil {
			return err
		}
		machine, err = tx.GetMachine(s.MachineID)
		if err != nil {
			return err
		}
		if s.TargetID == "" {
			return nil
		}
		target, err = tx.GetTarget(s.TargetID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				target = nil
				return nil
			}
			return err
		}
		if _, err := tx.ClaimTargetStatus(target.ID, types.TargetStatusActive, types.TargetStatusStopping); err != nil && !errdefs.IsConflict(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		log.WithSessionID(sessionID).Debug().
			Str("status", string(terminal.Status)).
			Msg("Stop of terminal session is a no-op")
		return terminal, nil
	}

	if reason == "" {
		reason = "stopped by " + actor
	}
	log.WithSessionID(sessionID).Info().
		Str("actor", actor).
		Str("reason", reason).
		Msg("Session stopping")
	m.publishSession(events.EventSessionStopping, session, reason)

	return m.finishStop(ctx, session, machine, target, reason)
}

// finishStop runs the teardown for a session already claimed into
// STOPPING and records the terminal state. Clean teardown ends STOPPED;
// teardown residue ends FAILED with the failures appended, and the error
// is surfaced.
func (m *Manager) finishStop(ctx context.Context, session *types.Session, machine *types.Machine, target *types.Target, reason string) (*types.Session, error) {
	timer := metrics.NewTimer()
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	residue := m.teardown(dctx, machine, target)

	status := types.SessionStatusStopped
	endReason := reason
	if len(residue) > 0 {
		status = types.SessionStatusFailed
		endReason = reason + "; teardown incomplete: " + strings.Join(residue, "; ")
	}

	now := time.Now().UTC()
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetSession(session.ID)
		if err != nil {
			return err
		}
		s.Status = status
		s.EndedAt = now
		s.EndReason = endReason
		if err := tx.PutSession(s); err != nil {
			return err
		}
		session = s
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
	if err != nil {
		return nil, err
	}

	timer.ObserveDuration(metrics.SessionStopDuration)
	if status == types.SessionStatusFailed {
		log.WithSessionID(session.ID).Error().
			Strs("residue", residue).
			Msg("Teardown left artefacts behind")
		m.publishSession(events.EventSessionFailed, session, endReason)
		return session, errors.Wrapf(errdefs.ErrFatal, "teardown incomplete: %s", strings.Join(residue, "; "))
	}
	log.WithSessionID(session.ID).Info().Str("reason", reason).Msg("Session stopped")
	m.publishSession(events.EventSessionStopped, session, endReason)
	return session, nil
}

// teardown clears the boot chain and target, newest first: DHCP
// reservation, daemon reload, boot script, iSCSI target. Every step gets
// its chance to run; failures are collected rather than aborting.
func (m *Manager) teardown(ctx context.Context, machine *types.Machine, target *types.Target) []string {
	var residue []string
	if err := m.dhcp.RemoveReservation(machine); err != nil {
		residue = append(residue, "remove reservation: "+err.Error())
	}
	rctx, rcancel := context.WithTimeout(ctx, m.cfg.Timeouts.DHCPReload.Std())
	err := m.reloadDHCP(rctx)
	rcancel()
	if err != nil {
		residue = append(residue, "reload dhcpd: "+err.Error())
	}
	if err := m.scripts.RemoveScript(machine); err != nil {
		residue = append(residue, "remove boot script: "+err.Error())
	}

	iqn := m.iscsi.IQNFor(machine)
	if target != nil && target.IQN != "" {
		iqn = target.IQN
	}
	tctx, tcancel := context.WithTimeout(ctx, m.cfg.Timeouts.TargetCreate.Std())
	defer tcancel()
	if err := m.iscsi.Destroy(tctx, iqn, iscsi.BackstoreName(machine)); err != nil {
		residue = append(residue, "destroy target: "+err.Error())
	} else {
		meta := map[string]string{"machine_id": machine.ID, "iqn": iqn}
		if target != nil {
			meta["target_id"] = target.ID
		}
		m.publish(events.EventTargetDestroyed, meta, "target "+iqn+" destroyed")
	}
	return residue
}

// publishSession emits a session transition to the event stream.
func (m *Manager) publishSession(t events.EventType, s *types.Session, msg string) {
	m.publish(t, map[string]string{
		"session_id": s.ID,
		"machine_id": s.MachineID,
		"image_id":   s.ImageID,
		"status":     string(s.Status),
	}, msg)
}
