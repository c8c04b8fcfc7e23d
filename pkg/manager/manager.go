package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/bootsteer"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/dhcp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/images"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/tftp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Deps are the external touchpoints of the control plane. main wires the
// real daemon adapters; tests substitute fakes behind the same
// interfaces.
type Deps struct {
	Store     storage.Store
	Broker    *events.Broker
	ISCSI     iscsi.Configurator
	Reloader  dhcp.Reloader
	Converter images.Converter
}

// Manager composes the store, the image service and the daemon adapters
// into the session orchestrator. It is the single facade the API server
// talks to.
type Manager struct {
	cfg       *config.Config
	store     storage.Store
	broker    *events.Broker
	images    *images.Service
	iscsi     *iscsi.Manager
	scripts   *tftp.ScriptWriter
	dhcp      *dhcp.Adapter
	boot      *bootsteer.Table
	collector *MetricsCollector
}

// New builds the control plane from cfg and deps. The DHCP configuration
// file is read (not rewritten) here; boot-chain files are materialized by
// Start.
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	boot := bootsteer.New(cfg.Boot.Loaders, cfg.Boot.DefaultLoader)

	adapter, err := dhcp.NewAdapter(cfg.DHCP.ConfigPath, cfg.DHCP.NextServer, boot.Snippet(), deps.Reloader)
	if err != nil {
		return nil, errors.Wrap(err, "dhcp adapter")
	}

	m := &Manager{
		cfg:     cfg,
		store:   deps.Store,
		broker:  deps.Broker,
		images:  images.NewService(cfg.Images, deps.Store, deps.Broker, deps.Converter),
		iscsi:   iscsi.NewManager(cfg.ISCSI, deps.ISCSI),
		scripts: tftp.NewScriptWriter(cfg.TFTP.Root, cfg.DHCP.NextServer),
		dhcp:    adapter,
		boot:    boot,
	}
	m.collector = NewMetricsCollector(m)
	return m, nil
}

// Start materializes the boot-chain files and launches the background
// workers. The generic chainloader and the managed DHCP section must
// exist before any client can PXE-boot, even with no session active, and
// the daemon must acknowledge the section so it becomes the rollback
// point for later edits.
func (m *Manager) Start() error {
	if _, err := m.scripts.WriteGenericScript(); err != nil {
		return errors.Wrap(err, "write generic boot script")
	}
	if err := m.dhcp.Sync(); err != nil {
		return errors.Wrap(err, "sync dhcp config")
	}
	rctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeouts.DHCPReload.Std())
	defer cancel()
	if err := m.reloadDHCP(rctx); err != nil {
		return errors.Wrap(err, "reload dhcpd")
	}
	m.images.Start()
	m.collector.Start()
	log.WithComponent("manager").Info().Msg("Control plane started")
	return nil
}

// reloadDHCP asks the daemon to pick up the current configuration and
// announces the acknowledgement on the event stream.
func (m *Manager) reloadDHCP(ctx context.Context) error {
	if err := m.dhcp.Reload(ctx); err != nil {
		return err
	}
	m.publish(events.EventDHCPReloaded, nil, "dhcpd acknowledged configuration")
	return nil
}

// Stop shuts down the background workers. The store and broker are owned
// by the caller and stay open.
func (m *Manager) Stop() {
	m.collector.Stop()
	m.images.Stop()
	log.WithComponent("manager").Info().Msg("Control plane stopped")
}

// Images exposes the image service for upload streaming.
func (m *Manager) Images() *images.Service {
	return m.images
}

// Store exposes the underlying store for read paths.
func (m *Manager) Store() storage.Store {
	return m.store
}

// --- Machines ---

// CreateMachine validates and registers a machine. The MAC is normalized
// to the canonical aa:bb:cc:dd:ee:ff form; hostname is required because
// the target IQN derives from it. New machines default to ACTIVE with
// x64 UEFI firmware.
func (m *Manager) CreateMachine(mc *types.Machine) (*types.Machine, error) {
	if mc.Hostname == "" {
		return nil, errors.Wrap(errdefs.ErrProtocol, "machine hostname required")
	}
	mac, err := types.NormalizeMAC(mc.MACAddress)
	if err != nil {
		return nil, errors.Wrapf(errdefs.ErrProtocol, "%v", err)
	}
	if existing, err := m.store.GetMachineByMAC(mac); err == nil {
		return nil, errors.Wrapf(errdefs.ErrConflict, "MAC %s already registered to machine %s", mac, existing.ID)
	} else if !errdefs.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	machine := &types.Machine{
		ID:           uuid.New().String(),
		MACAddress:   mac,
		Hostname:     mc.Hostname,
		IPAddress:    mc.IPAddress,
		BootMode:     mc.BootMode,
		FirmwareArch: mc.FirmwareArch,
		Status:       mc.Status,
		CPUModel:     mc.CPUModel,
		RAMBytes:     mc.RAMBytes,
		NICSpeedMbps: mc.NICSpeedMbps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if machine.BootMode == "" {
		machine.BootMode = types.BootModeUEFI
	}
	if machine.FirmwareArch == "" {
		machine.FirmwareArch = types.FirmwareArchX64UEFI
	}
	if machine.Status == "" {
		machine.Status = types.MachineStatusActive
	}
	if err := m.store.CreateMachine(machine); err != nil {
		return nil, err
	}

	log.WithMachineID(machine.ID).Info().
		Str("mac", machine.MACAddress).
		Str("hostname", machine.Hostname).
		Msg("Machine registered")
	m.publish(events.EventMachineCreated, map[string]string{"machine_id": machine.ID}, "machine "+machine.Hostname+" registered")
	return machine, nil
}

// GetMachine returns the machine by id.
func (m *Manager) GetMachine(id string) (*types.Machine, error) {
	return m.store.GetMachine(id)
}

// GetMachineByMAC returns the machine owning mac (any common notation).
func (m *Manager) GetMachineByMAC(mac string) (*types.Machine, error) {
	normalized, err := types.NormalizeMAC(mac)
	if err != nil {
		return nil, errors.Wrapf(errdefs.ErrProtocol, "%v", err)
	}
	return m.store.GetMachineByMAC(normalized)
}

// ListMachines returns all registered machines.
func (m *Manager) ListMachines() ([]*types.Machine, error) {
	return m.store.ListMachines()
}

// UpdateMachine applies the non-zero fields of upd to the stored machine.
// Hostname and MAC changes are refused while a session is live: the
// target IQN and boot-script name derive from them.
func (m *Manager) UpdateMachine(id string, upd *types.Machine) (*types.Machine, error) {
	machine, err := m.store.GetMachine(id)
	if err != nil {
		return nil, err
	}

	mac := machine.MACAddress
	if upd.MACAddress != "" {
		mac, err = types.NormalizeMAC(upd.MACAddress)
		if err != nil {
			return nil, errors.Wrapf(errdefs.ErrProtocol, "%v", err)
		}
	}
	renames := mac != machine.MACAddress ||
		(upd.Hostname != "" && upd.Hostname != machine.Hostname)
	if renames {
		if sess, err := m.store.ActiveSessionForMachine(id); err == nil {
			return nil, errors.Wrapf(errdefs.ErrPrecondition, "machine %s has session %s in %s; stop it before renaming", id, sess.ID, sess.Status)
		} else if !errdefs.IsNotFound(err) {
			return nil, err
		}
	}
	if mac != machine.MACAddress {
		if existing, err := m.store.GetMachineByMAC(mac); err == nil && existing.ID != id {
			return nil, errors.Wrapf(errdefs.ErrConflict, "MAC %s already registered to machine %s", mac, existing.ID)
		} else if err != nil && !errdefs.IsNotFound(err) {
			return nil, err
		}
	}

	machine.MACAddress = mac
	if upd.Hostname != "" {
		machine.Hostname = upd.Hostname
	}
	if upd.IPAddress != "" {
		machine.IPAddress = upd.IPAddress
	}
	if upd.BootMode != "" {
		machine.BootMode = upd.BootMode
	}
	if upd.FirmwareArch != "" {
		machine.FirmwareArch = upd.FirmwareArch
	}
	if upd.Status != "" {
		machine.Status = upd.Status
	}
	if upd.CPUModel != "" {
		machine.CPUModel = upd.CPUModel
	}
	if upd.RAMBytes != 0 {
		machine.RAMBytes = upd.RAMBytes
	}
	if upd.NICSpeedMbps != 0 {
		machine.NICSpeedMbps = upd.NICSpeedMbps
	}
	machine.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateMachine(machine); err != nil {
		return nil, err
	}
	m.publish(events.EventMachineUpdated, map[string]string{"machine_id": machine.ID}, "machine "+machine.Hostname+" updated")
	return machine, nil
}

// DeleteMachine removes the machine row. Refused while the machine has a
// non-terminal session.
func (m *Manager) DeleteMachine(id string) error {
	machine, err := m.store.GetMachine(id)
	if err != nil {
		return err
	}
	if sess, err := m.store.ActiveSessionForMachine(id); err == nil {
		return errors.Wrapf(errdefs.ErrPrecondition, "machine %s has session %s in %s; stop it first", id, sess.ID, sess.Status)
	} else if !errdefs.IsNotFound(err) {
		return err
	}
	if err := m.store.DeleteMachine(id); err != nil {
		return err
	}
	log.WithMachineID(id).Info().Str("hostname", machine.Hostname).Msg("Machine deleted")
	m.publish(events.EventMachineDeleted, map[string]string{"machine_id": id}, "machine "+machine.Hostname+" deleted")
	return nil
}

// --- Images (delegated to the image service) ---

// BeginUpload opens an upload stream and returns its token.
func (m *Manager) BeginUpload(req images.UploadRequest) (*images.Upload, error) {
	return m.images.BeginUpload(req)
}

// GetImage returns the image by id.
func (m *Manager) GetImage(id string) (*types.Image, error) {
	return m.store.GetImage(id)
}

// ListImages returns all images, archived ones included.
func (m *Manager) ListImages() ([]*types.Image, error) {
	return m.store.ListImages()
}

// ArchiveImage soft-deletes an image and removes its bytes.
func (m *Manager) ArchiveImage(id string) (*types.Image, error) {
	return m.images.Archive(id)
}

// --- Sessions (reads; start/stop live in session.go) ---

// GetSession returns the session by id.
func (m *Manager) GetSession(id string) (*types.Session, error) {
	return m.store.GetSession(id)
}

// ListSessions returns all sessions, terminal ones included.
func (m *Manager) ListSessions() ([]*types.Session, error) {
	return m.store.ListSessions()
}

// ListTargets returns all target rows.
func (m *Manager) ListTargets() ([]*types.Target, error) {
	return m.store.ListTargets()
}

// BootScript returns the iPXE script for the machine's active session and
// records the fetch as machine liveness. Chainloaded clients fall back to
// local boot when this is NotFound.
func (m *Manager) BootScript(machineID string) (string, error) {
	machine, err := m.store.GetMachine(machineID)
	if err != nil {
		return "", err
	}
	sess, err := m.store.ActiveSessionForMachine(machineID)
	if err != nil {
		return "", err
	}
	text, err := m.scripts.ReadScript(machine)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	machine.LastSeen = now
	machine.UpdatedAt = now
	if err := m.store.UpdateMachine(machine); err != nil {
		log.WithMachineID(machineID).Warn().Err(err).Msg("Recording boot-script fetch failed")
	}
	sess.LastActivity = now
	if err := m.store.UpdateSession(sess); err != nil {
		log.WithSessionID(sess.ID).Warn().Err(err).Msg("Recording session activity failed")
	}
	metrics.BootScriptFetchesTotal.Inc()
	return text, nil
}

// publish emits a broker event; a nil broker drops it.
func (m *Manager) publish(t events.EventType, meta map[string]string, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: meta,
	})
}
