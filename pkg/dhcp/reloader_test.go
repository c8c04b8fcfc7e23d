package dhcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
)

func TestNewReloaderPrecedence(t *testing.T) {
	r, err := NewReloader(config.DHCP{ReloadUnit: "dhcpd.service", ReloadCommand: "true", PIDFile: "/run/x.pid"})
	require.NoError(t, err)
	assert.IsType(t, &SystemdReloader{}, r)

	r, err = NewReloader(config.DHCP{ReloadCommand: "true", PIDFile: "/run/x.pid"})
	require.NoError(t, err)
	assert.IsType(t, &CommandReloader{}, r)

	r, err = NewReloader(config.DHCP{PIDFile: "/run/x.pid"})
	require.NoError(t, err)
	assert.IsType(t, &SignalReloader{}, r)

	_, err = NewReloader(config.DHCP{})
	require.Error(t, err)
}

func TestCommandReloader(t *testing.T) {
	ctx := context.Background()

	ok := &CommandReloader{Command: "true"}
	require.NoError(t, ok.Reload(ctx))

	fail := &CommandReloader{Command: "false"}
	require.Error(t, fail.Reload(ctx))

	// Quoted arguments survive shlex splitting.
	quoted := &CommandReloader{Command: `sh -c "exit 0"`}
	require.NoError(t, quoted.Reload(ctx))

	empty := &CommandReloader{Command: "   "}
	require.Error(t, empty.Reload(ctx))
}

func TestSignalReloader(t *testing.T) {
	// Catch the HUP we are about to send ourselves.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	pidFile := filepath.Join(t.TempDir(), "dhcpd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	r := &SignalReloader{PIDFile: pidFile}
	require.NoError(t, r.Reload(context.Background()))

	select {
	case <-hup:
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}

func TestSignalReloaderBadPIDFile(t *testing.T) {
	ctx := context.Background()

	missing := &SignalReloader{PIDFile: filepath.Join(t.TempDir(), "nope.pid")}
	err := missing.Reload(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsDaemonUnavailable(err))

	pidFile := filepath.Join(t.TempDir(), "dhcpd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid\n"), 0o644))
	garbage := &SignalReloader{PIDFile: pidFile}
	require.Error(t, garbage.Reload(ctx))
}
