package tftp

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pintftp "github.com/pin/tftp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

func testMachine() *types.Machine {
	return &types.Machine{
		ID:         "machine-1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Hostname:   "m1",
	}
}

func testTarget() *types.Target {
	return &types.Target{
		ID:           "target-1",
		IQN:          "iqn.2025.ggnet:target-m1",
		InitiatorIQN: "iqn.2025.ggnet:initiator-aabbccddeeff",
		LUNID:        0,
		PortalIP:     "192.168.1.10",
		PortalPort:   3260,
	}
}

func TestWriteScript(t *testing.T) {
	root := t.TempDir()
	w := NewScriptWriter(root, "192.168.1.10")

	path, err := w.WriteScript(testMachine(), testTarget())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "machines", "aa-bb-cc-dd-ee-ff.ipxe"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	script := string(data)

	assert.True(t, strings.HasPrefix(script, "#!ipxe\n"))
	assert.Contains(t, script, "set initiator-iqn iqn.2025.ggnet:initiator-aabbccddeeff")
	assert.Contains(t, script, "sanboot iscsi:192.168.1.10:::0:iqn.2025.ggnet:target-m1")
	assert.Contains(t, script, "|| chain tftp://192.168.1.10/boot.ipxe")
	assert.Contains(t, script, "|| sanboot --no-describe --drive 0x80")

	// Whatever we write must satisfy our own validator.
	assert.True(t, Validate(script))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	// No stray tmp file after the rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSanURI(t *testing.T) {
	target := testTarget()
	assert.Equal(t, "iscsi:192.168.1.10:::0:iqn.2025.ggnet:target-m1", SanURI(target))

	target.PortalPort = 3261
	assert.Equal(t, "iscsi:192.168.1.10::3261:0:iqn.2025.ggnet:target-m1", SanURI(target))

	target.PortalPort = 0
	target.LUNID = 2
	assert.Equal(t, "iscsi:192.168.1.10:::2:iqn.2025.ggnet:target-m1", SanURI(target))
}

func TestWriteScriptOverwrites(t *testing.T) {
	w := NewScriptWriter(t.TempDir(), "192.168.1.10")
	m := testMachine()

	_, err := w.WriteScript(m, testTarget())
	require.NoError(t, err)

	second := testTarget()
	second.IQN = "iqn.2025.ggnet:target-m1-b"
	path, err := w.WriteScript(m, second)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "target-m1-b")
}

func TestRemoveScriptIdempotent(t *testing.T) {
	w := NewScriptWriter(t.TempDir(), "192.168.1.10")
	m := testMachine()

	// Removing a script that was never written is fine.
	require.NoError(t, w.RemoveScript(m))

	_, err := w.WriteScript(m, testTarget())
	require.NoError(t, err)
	require.NoError(t, w.RemoveScript(m))
	require.NoError(t, w.RemoveScript(m))

	assert.False(t, w.HasScript(m))
}

func TestReadScript(t *testing.T) {
	w := NewScriptWriter(t.TempDir(), "192.168.1.10")
	m := testMachine()

	_, err := w.ReadScript(m)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	_, err = w.WriteScript(m, testTarget())
	require.NoError(t, err)

	text, err := w.ReadScript(m)
	require.NoError(t, err)
	assert.Contains(t, text, "sanboot")
	assert.True(t, w.HasScript(m))
}

func TestWriteGenericScript(t *testing.T) {
	root := t.TempDir()
	w := NewScriptWriter(root, "192.168.1.10")

	path, err := w.WriteGenericScript()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "boot.ipxe"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	script := string(data)

	assert.True(t, strings.HasPrefix(script, "#!ipxe\n"))
	assert.Contains(t, script, "chain machines/${net0/mac:hexhyp}.ipxe")
	assert.Contains(t, script, "|| sanboot --no-describe --drive 0x80")

	// Idempotent at startup.
	_, err = w.WriteGenericScript()
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   bool
	}{
		{
			"full script",
			"#!ipxe\nset initiator-iqn iqn.x\nsanboot iscsi:10.0.0.1:::0:iqn.y || exit\n",
			true,
		},
		{
			"leading whitespace tolerated",
			"\n#!ipxe\nsanboot iscsi:10.0.0.1:::0:iqn.y\n",
			true,
		},
		{
			"missing shebang",
			"sanboot iscsi:10.0.0.1:::0:iqn.y\n",
			false,
		},
		{
			"missing sanboot",
			"#!ipxe\nchain iscsi:10.0.0.1:::0:iqn.y\n",
			false,
		},
		{
			"missing iscsi url",
			"#!ipxe\nsanboot --no-describe --drive 0x80\n",
			false,
		},
		{
			"empty iscsi url",
			"#!ipxe\nsanboot iscsi: \n",
			false,
		},
		{
			"empty",
			"",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.script))
		})
	}
}

// startTFTPServer runs an in-process TFTP daemon serving the given files.
func startTFTPServer(t *testing.T, files map[string]string) string {
	t.Helper()

	readHandler := func(filename string, rf io.ReaderFrom) error {
		content, ok := files[filename]
		if !ok {
			return os.ErrNotExist
		}
		_, err := rf.ReadFrom(strings.NewReader(content))
		return err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	srv := pintftp.NewServer(readHandler, nil)
	go srv.Serve(conn) //nolint:errcheck
	t.Cleanup(srv.Shutdown)

	return conn.LocalAddr().String()
}

func TestProbe(t *testing.T) {
	addr := startTFTPServer(t, map[string]string{
		"boot.ipxe": "#!ipxe\nchain machines/${net0/mac:hexhyp}.ipxe || sanboot --no-describe --drive 0x80\n",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Probe(ctx, addr))
}

func TestProbeMissingScript(t *testing.T) {
	addr := startTFTPServer(t, map[string]string{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Probe(ctx, addr)
	require.Error(t, err)
	assert.True(t, errdefs.IsDaemonUnavailable(err))
}

func TestProbeWrongContent(t *testing.T) {
	addr := startTFTPServer(t, map[string]string{
		"boot.ipxe": "this is not an ipxe script",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Probe(ctx, addr)
	require.Error(t, err)
	assert.True(t, errdefs.IsProtocol(err))
}
