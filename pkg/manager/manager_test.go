package manager

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/dhcp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/images"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// SHA-256 of the fixed payloads the scenario tests upload.
const (
	sumAA4096 = "c622005493c4cb75f3e08eda4cc0bfe172e2c5eeca661ec4908c5490fc3d6994"
	sum551024 = "9e1ca7712682c141e196917c6900f6e7c17cb6bfcb0e4f64f1186c32e50aae7a"
)

type harness struct {
	mgr      *Manager
	store    storage.Store
	cfg      *config.Config
	fake     *iscsi.FakeConfigurator
	reloader *dhcp.FakeReloader
	conv     *images.FakeConverter
	broker   *events.Broker
}

func newHarness(t *testing.T) *harness {
	return newHarnessBroker(t, nil)
}

func newHarnessBroker(t *testing.T, broker *events.Broker) *harness {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Images.Root = filepath.Join(dir, "images")
	cfg.TFTP.Root = filepath.Join(dir, "tftpboot")
	cfg.DHCP.ConfigPath = filepath.Join(dir, "dhcpd.conf")
	cfg.DHCP.NextServer = "192.168.1.10"
	cfg.ISCSI.PortalIP = "192.168.1.10"
	cfg.ISCSI.IQNPrefix = "iqn.2025.ggnet"

	store, err := storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		cfg:      cfg,
		fake:     iscsi.NewFakeConfigurator(),
		reloader: &dhcp.FakeReloader{},
		conv:     images.NewFakeConverter(),
		broker:   broker,
	}
	mgr, err := New(cfg, Deps{
		Store:     store,
		Broker:    broker,
		ISCSI:     h.fake,
		Reloader:  h.reloader,
		Converter: h.conv,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)
	h.mgr = mgr
	return h
}

// uploadRaw pushes payload as a declared-RAW image and waits for READY.
func uploadRaw(t *testing.T, h *harness, name string, payload []byte) *types.Image {
	t.Helper()
	up, err := h.mgr.BeginUpload(images.UploadRequest{
		Name:      name,
		Filename:  name + ".raw",
		Format:    types.ImageFormatRAW,
		SizeBytes: int64(len(payload)),
		Actor:     "tester",
	})
	require.NoError(t, err)
	n, err := h.mgr.Images().AppendChunk(up.Token, 0, bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	img, err := h.mgr.Images().FinalizeUpload(context.Background(), up.Token)
	require.NoError(t, err)
	require.Equal(t, types.ImageStatusReady, img.Status)
	return img
}

func addMachine(t *testing.T, h *harness) *types.Machine {
	t.Helper()
	machine, err := h.mgr.CreateMachine(&types.Machine{
		Hostname:   "m1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		BootMode:   types.BootModeUEFISecureBoot,
	})
	require.NoError(t, err)
	return machine
}

// activeSession uploads img-win11, registers m1 and starts the session.
func activeSession(t *testing.T, h *harness) (*types.Image, *types.Machine, *types.Session) {
	t.Helper()
	img := uploadRaw(t, h, "img-win11", bytes.Repeat([]byte{0xAA}, 4096))
	machine := addMachine(t, h)
	sess, err := h.mgr.StartSession(context.Background(), machine.ID, img.ID, "tester")
	require.NoError(t, err)
	return img, machine, sess
}

func scriptPath(h *harness) string {
	return filepath.Join(h.cfg.TFTP.Root, "machines", "aa-bb-cc-dd-ee-ff.ipxe")
}

func dhcpConf(t *testing.T, h *harness) string {
	t.Helper()
	data, err := os.ReadFile(h.cfg.DHCP.ConfigPath)
	require.NoError(t, err)
	return string(data)
}

func TestStartBootstrapsBootChain(t *testing.T) {
	h := newHarness(t)

	data, err := os.ReadFile(filepath.Join(h.cfg.TFTP.Root, "boot.ipxe"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "chain machines/${net0/mac:hexhyp}.ipxe")

	conf := dhcpConf(t, h)
	assert.Contains(t, conf, dhcp.SentinelBegin)
	assert.Contains(t, conf, "option architecture-type code 93 = unsigned integer 16;")
	assert.Equal(t, 1, h.reloader.Calls())
}

func TestMachineLifecycle(t *testing.T) {
	h := newHarness(t)

	machine, err := h.mgr.CreateMachine(&types.Machine{
		Hostname:   "lab-pc-07",
		MACAddress: "AA-BB-CC-DD-EE-FF",
	})
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", machine.MACAddress)
	assert.Equal(t, types.MachineStatusActive, machine.Status)
	assert.Equal(t, types.BootModeUEFI, machine.BootMode)
	assert.Equal(t, types.FirmwareArchX64UEFI, machine.FirmwareArch)

	_, err = h.mgr.CreateMachine(&types.Machine{Hostname: "other", MACAddress: "aa:bb:cc:dd:ee:ff"})
	assert.True(t, errdefs.IsConflict(err))

	_, err = h.mgr.CreateMachine(&types.Machine{Hostname: "bad", MACAddress: "not-a-mac"})
	assert.True(t, errdefs.IsProtocol(err))

	_, err = h.mgr.CreateMachine(&types.Machine{MACAddress: "11:22:33:44:55:66"})
	assert.True(t, errdefs.IsProtocol(err))

	got, err := h.mgr.GetMachineByMAC("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, machine.ID, got.ID)

	updated, err := h.mgr.UpdateMachine(machine.ID, &types.Machine{IPAddress: "192.168.1.50", RAMBytes: 16 << 30})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", updated.IPAddress)
	assert.Equal(t, int64(16<<30), updated.RAMBytes)
	assert.Equal(t, "lab-pc-07", updated.Hostname)

	require.NoError(t, h.mgr.DeleteMachine(machine.ID))
	_, err = h.mgr.GetMachine(machine.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestMachineGuardsWhileSessionLive(t *testing.T) {
	h := newHarness(t)
	_, machine, sess := activeSession(t, h)

	_, err := h.mgr.UpdateMachine(machine.ID, &types.Machine{Hostname: "renamed"})
	assert.True(t, errdefs.IsPrecondition(err))
	_, err = h.mgr.UpdateMachine(machine.ID, &types.Machine{MACAddress: "11:22:33:44:55:66"})
	assert.True(t, errdefs.IsPrecondition(err))
	err = h.mgr.DeleteMachine(machine.ID)
	assert.True(t, errdefs.IsPrecondition(err))

	// fields the boot chain does not derive from stay editable
	_, err = h.mgr.UpdateMachine(machine.ID, &types.Machine{CPUModel: "i5-9400"})
	require.NoError(t, err)

	_, err = h.mgr.StopSession(context.Background(), sess.ID, "tester", "")
	require.NoError(t, err)
	_, err = h.mgr.UpdateMachine(machine.ID, &types.Machine{Hostname: "renamed"})
	require.NoError(t, err)
	require.NoError(t, h.mgr.DeleteMachine(machine.ID))
}

func TestBootScript(t *testing.T) {
	h := newHarness(t)
	_, machine, sess := activeSession(t, h)

	text, err := h.mgr.BootScript(machine.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "#!ipxe"))

	updated, err := h.mgr.GetMachine(machine.ID)
	require.NoError(t, err)
	assert.False(t, updated.LastSeen.IsZero())

	_, err = h.mgr.StopSession(context.Background(), sess.ID, "tester", "")
	require.NoError(t, err)
	_, err = h.mgr.BootScript(machine.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAuth(t *testing.T) {
	h := newHarness(t)
	h.cfg.Auth.BootstrapToken = "bootstrap-secret"

	require.NoError(t, h.mgr.EnsureBootstrapUser())
	require.NoError(t, h.mgr.EnsureBootstrapUser())
	users, err := h.mgr.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)

	admin, err := h.mgr.Authenticate("bootstrap-secret")
	require.NoError(t, err)
	assert.Equal(t, types.UserRoleAdmin, admin.Role)

	_, err = h.mgr.Authenticate("wrong")
	assert.True(t, errdefs.IsUnauthenticated(err))
	_, err = h.mgr.Authenticate("")
	assert.True(t, errdefs.IsUnauthenticated(err))

	op, token, err := h.mgr.CreateUser("operator1", types.UserRoleOperator)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	authed, err := h.mgr.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, op.ID, authed.ID)
	assert.True(t, authed.Role.CanWrite())

	_, _, err = h.mgr.CreateUser("operator1", types.UserRoleOperator)
	assert.True(t, errdefs.IsConflict(err))
	_, _, err = h.mgr.CreateUser("x", "SUPERUSER")
	assert.True(t, errdefs.IsProtocol(err))

	err = h.mgr.DeleteUser(admin.ID)
	assert.True(t, errdefs.IsPrecondition(err))

	_, _, err = h.mgr.CreateUser("admin2", types.UserRoleAdmin)
	require.NoError(t, err)
	require.NoError(t, h.mgr.DeleteUser(admin.ID))
}
