package dhcp

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
)

// Reloader makes the DHCP daemon pick up a rewritten configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// NewReloader picks the strategy from configuration: a systemd unit wins
// over a shell command, which wins over SIGHUP at a pidfile.
func NewReloader(cfg config.DHCP) (Reloader, error) {
	switch {
	case cfg.ReloadUnit != "":
		return &SystemdReloader{Unit: cfg.ReloadUnit}, nil
	case cfg.ReloadCommand != "":
		return &CommandReloader{Command: cfg.ReloadCommand}, nil
	case cfg.PIDFile != "":
		return &SignalReloader{PIDFile: cfg.PIDFile}, nil
	default:
		return nil, errors.New("no dhcp reload strategy configured")
	}
}

// SystemdReloader drives the unit over the system D-Bus. ReloadOrRestart
// because isc-dhcp-server has no reload support; systemd falls back to a
// restart for such units.
type SystemdReloader struct {
	Unit string
}

func (r *SystemdReloader) Reload(ctx context.Context) error {
	conn, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "systemd dbus: %v", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.ReloadOrRestartUnitContext(ctx, r.Unit, "replace", done); err != nil {
		return errors.Wrapf(err, "reload unit %s", r.Unit)
	}
	select {
	case result := <-done:
		if result != "done" {
			return errors.Errorf("reload unit %s: job result %q", r.Unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandReloader runs a configured shell command, e.g.
// "systemctl reload dnsmasq" or "/usr/local/sbin/dhcp-reload.sh".
type CommandReloader struct {
	Command string
}

func (r *CommandReloader) Reload(ctx context.Context) error {
	argv, err := shlex.Split(r.Command)
	if err != nil {
		return errors.Wrapf(err, "parse reload command %q", r.Command)
	}
	if len(argv) == 0 {
		return errors.New("empty reload command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "%s: %s", argv[0], strings.TrimSpace(string(out)))
	}
	return nil
}

// SignalReloader sends SIGHUP to the pid recorded in a pidfile. Only
// suitable for daemons that actually re-read their config on HUP
// (dnsmasq does, isc-dhcpd does not).
type SignalReloader struct {
	PIDFile string
}

func (r *SignalReloader) Reload(ctx context.Context) error {
	data, err := os.ReadFile(r.PIDFile)
	if err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "read pidfile %s: %v", r.PIDFile, err)
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return errors.Errorf("pidfile %s: bad pid %q", r.PIDFile, raw)
	}
	if err := unix.Kill(pid, unix.SIGHUP); err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "signal pid %d: %v", pid, err)
	}
	return nil
}

// FakeReloader is a test double: it counts calls and fails on demand.
type FakeReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *FakeReloader) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

// Calls returns how many times Reload ran.
func (f *FakeReloader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Fail makes subsequent Reload calls return err; nil restores success.
func (f *FakeReloader) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
