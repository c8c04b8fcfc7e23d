package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/api"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/dhcp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/images"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/manager"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// newTestServer boots the full server stack on an in-process listener
// and returns an admin-authenticated client for it.
func newTestServer(t *testing.T) (*Client, *events.Broker) {
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
	cfg.Auth.BootstrapToken = "bootstrap-admin-token"

	store, err := storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr, err := manager.New(cfg, manager.Deps{
		Store:     store,
		Broker:    broker,
		ISCSI:     iscsi.NewFakeConfigurator(),
		Reloader:  &dhcp.FakeReloader{},
		Converter: images.NewFakeConverter(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)
	require.NoError(t, mgr.EnsureBootstrapUser())

	ts := httptest.NewServer(api.NewServer(mgr, broker).Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL, WithToken(cfg.Auth.BootstrapToken)), broker
}

func writeTempImage(t *testing.T, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	return path
}

func TestErrorClassificationAcrossWire(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.GetMachine("ghost")
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
	assert.Contains(t, err.Error(), "ghost")

	_, err = c.CreateMachine(&types.Machine{Hostname: "x", MACAddress: "junk"})
	assert.True(t, errdefs.IsProtocol(err), "got %v", err)

	anon := New(c.baseURL)
	_, err = anon.ListMachines()
	assert.True(t, errdefs.IsUnauthenticated(err), "got %v", err)
}

func TestUploadImageWithProgress(t *testing.T) {
	c, _ := newTestServer(t)
	payload := bytes.Repeat([]byte{0xAA}, 4096)
	path := writeTempImage(t, "win11.raw", payload)

	type tick struct{ sent, total int64 }
	var ticks []tick
	img, err := c.UploadImage("img-win11", path, "", func(sent, total int64) {
		ticks = append(ticks, tick{sent, total})
	})
	require.NoError(t, err)
	assert.Equal(t, types.ImageStatusReady, img.Status)
	assert.Equal(t, "c622005493c4cb75f3e08eda4cc0bfe172e2c5eeca661ec4908c5490fc3d6994", img.Checksum)

	require.NotEmpty(t, ticks)
	last := ticks[len(ticks)-1]
	assert.Equal(t, int64(4096), last.sent)
	assert.Equal(t, int64(4096), last.total)
}

func TestUploadImageConversionWait(t *testing.T) {
	c, _ := newTestServer(t)
	payload := bytes.Repeat([]byte{0x55}, 1024)
	path := writeTempImage(t, "win11.vhdx", payload)

	img, err := c.UploadImage("win11-master", path, "", nil)
	require.NoError(t, err)
	require.Equal(t, types.ImageStatusProcessing, img.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ready, err := c.WaitImageReady(ctx, img.ID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ImageStatusReady, ready.Status)
	assert.Equal(t, "9e1ca7712682c141e196917c6900f6e7c17cb6bfcb0e4f64f1186c32e50aae7a", ready.Checksum)
}

func TestUploadImageAbortsOnBadDeclaredFormat(t *testing.T) {
	c, _ := newTestServer(t)
	path := writeTempImage(t, "weird.bin", []byte{1, 2, 3})

	_, err := c.UploadImage("weird", path, "", nil)
	assert.True(t, errdefs.IsProtocol(err), "got %v", err)
}

func TestSessionLifecycle(t *testing.T) {
	c, _ := newTestServer(t)
	machine, err := c.CreateMachine(&types.Machine{
		Hostname:   "m1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)

	path := writeTempImage(t, "win11.raw", bytes.Repeat([]byte{0xAA}, 4096))
	img, err := c.UploadImage("img-win11", path, "", nil)
	require.NoError(t, err)

	sess, err := c.StartSession(machine.ID, img.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusActive, sess.Status)

	script, err := c.BootScript(machine.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(script, "#!ipxe"))

	targets, err := c.ListTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "iqn.2025.ggnet:target-m1", targets[0].IQN)

	stopped, err := c.StopSession(sess.ID, "done testing")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusStopped, stopped.Status)
	assert.Equal(t, "done testing", stopped.EndReason)

	_, err = c.BootScript(machine.ID)
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
}

func TestMachineLookupByMAC(t *testing.T) {
	c, _ := newTestServer(t)
	created, err := c.CreateMachine(&types.Machine{
		Hostname:   "m1",
		MACAddress: "AA-BB-CC-DD-EE-FF",
	})
	require.NoError(t, err)

	for _, notation := range []string{"aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF", "aabb.ccdd.eeff"} {
		machine, err := c.GetMachineByMAC(notation)
		require.NoError(t, err, "notation %s", notation)
		assert.Equal(t, created.ID, machine.ID)
	}

	_, err = c.GetMachineByMAC("00:00:00:00:00:01")
	assert.True(t, errdefs.IsNotFound(err), "got %v", err)
}

func TestUserTokensWork(t *testing.T) {
	c, _ := newTestServer(t)
	user, token, err := c.CreateUser("viewer1", types.UserRoleViewer)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, types.UserRoleViewer, user.Role)

	viewer := New(c.baseURL, WithToken(token))
	_, err = viewer.ListMachines()
	require.NoError(t, err)

	_, err = viewer.CreateMachine(&types.Machine{Hostname: "x", MACAddress: "02:00:00:00:00:09"})
	assert.True(t, errdefs.IsForbidden(err), "got %v", err)

	require.NoError(t, c.DeleteUser(user.ID))
	_, err = viewer.ListMachines()
	assert.True(t, errdefs.IsUnauthenticated(err), "got %v", err)
}

func TestEventStream(t *testing.T) {
	c, broker := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := c.Events(ctx)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	machine, err := c.CreateMachine(&types.Machine{
		Hostname:   "m1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)

	var got *events.Event
	for {
		ev, err := stream.Next()
		require.NoError(t, err)
		if ev.Type == events.EventMachineCreated {
			got = ev
			break
		}
	}
	assert.Equal(t, machine.ID, got.Metadata["machine_id"])
}
