package iscsi

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
)

// captureCLI returns a TargetCLI whose runner records argv instead of
// executing, replying with out/serr/err for every invocation.
func captureCLI(out, serr string, err error) (*TargetCLI, *[][]string) {
	var calls [][]string
	cli := NewTargetCLI(config.ISCSI{TargetCLIPath: "targetcli"})
	cli.run = func(_ context.Context, argv []string) (string, string, error) {
		calls = append(calls, argv)
		return out, serr, err
	}
	return cli, &calls
}

func TestCommandRendering(t *testing.T) {
	cli, calls := captureCLI("", "", nil)
	ctx := context.Background()

	iqn := "iqn.2025.ggnet:target-m1"
	initiator := "iqn.2025.ggnet:initiator-aabbccddeeff"

	require.NoError(t, cli.CreateBackstore(ctx, "machine_41f8c9d2", "/var/lib/ggnet/images/win11.raw"))
	require.NoError(t, cli.CreateTarget(ctx, iqn))
	require.NoError(t, cli.CreateLUN(ctx, iqn, "machine_41f8c9d2"))
	require.NoError(t, cli.CreateACL(ctx, iqn, initiator))
	require.NoError(t, cli.CreatePortal(ctx, iqn, "192.168.1.10", 3260))
	require.NoError(t, cli.SaveConfig(ctx))
	require.NoError(t, cli.DeleteTarget(ctx, iqn))
	require.NoError(t, cli.DeleteBackstore(ctx, "machine_41f8c9d2"))

	assert.Equal(t, [][]string{
		{"/backstores/fileio", "create", "machine_41f8c9d2", "/var/lib/ggnet/images/win11.raw"},
		{"/iscsi", "create", iqn},
		{"/iscsi/" + iqn + "/tpg1/luns", "create", "/backstores/fileio/machine_41f8c9d2"},
		{"/iscsi/" + iqn + "/tpg1/acls", "create", initiator},
		{"/iscsi/" + iqn + "/tpg1/portals", "delete", "0.0.0.0", "3260"},
		{"/iscsi/" + iqn + "/tpg1/portals", "create", "192.168.1.10", "3260"},
		{"saveconfig"},
		{"/iscsi", "delete", iqn},
		{"/backstores/fileio", "delete", "machine_41f8c9d2"},
	}, *calls)
}

func TestSetCHAPRendering(t *testing.T) {
	cli, calls := captureCLI("", "", nil)

	iqn := "iqn.2025.ggnet:target-m1"
	initiator := "iqn.2025.ggnet:initiator-aabbccddeeff"
	require.NoError(t, cli.SetCHAP(context.Background(), iqn, initiator, "ggnet", "s3cret"))

	assert.Equal(t, [][]string{
		{"/iscsi/" + iqn + "/tpg1/acls/" + initiator, "set", "auth", "userid=ggnet", "password=s3cret"},
		{"/iscsi/" + iqn + "/tpg1", "set", "attribute", "authentication=1"},
	}, *calls)
}

func TestCreatePortalToleratesMissingDefault(t *testing.T) {
	// The default-portal delete fails on a fresh TPG; the create must
	// still run and its result decides the outcome.
	var calls [][]string
	cli := NewTargetCLI(config.ISCSI{TargetCLIPath: "targetcli"})
	cli.run = func(_ context.Context, argv []string) (string, string, error) {
		calls = append(calls, argv)
		if argv[1] == "delete" {
			return "", "No such path", errors.New("exit status 1")
		}
		return "", "", nil
	}

	err := cli.CreatePortal(context.Background(), "iqn.2025.ggnet:target-m1", "192.168.1.10", 3260)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "create", calls[1][1])
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		runErr error
		cancel bool
		check  func(error) bool
	}{
		{
			name:   "missing binary",
			runErr: &exec.Error{Name: "targetcli", Err: exec.ErrNotFound},
			check:  errdefs.IsDaemonUnavailable,
		},
		{
			name:   "configfs not mounted",
			stderr: "Could not create /sys/kernel/config/target: configfs not mounted",
			runErr: errors.New("exit status 1"),
			check:  errdefs.IsDaemonUnavailable,
		},
		{
			name:   "context deadline",
			runErr: errors.New("signal: killed"),
			cancel: true,
			check:  errdefs.IsTransient,
		},
		{
			name:   "name collision",
			stderr: "Storage object machine_41f8c9d2 already exists",
			runErr: errors.New("exit status 1"),
			check:  errdefs.IsConflict,
		},
		{
			name:   "anything else",
			stderr: "Invalid path /backstores/fileioz",
			runErr: errors.New("exit status 1"),
			check:  errdefs.IsFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, _ := captureCLI("", tt.stderr, tt.runErr)
			ctx := context.Background()
			if tt.cancel {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
			}

			err := cli.CreateTarget(ctx, "iqn.2025.ggnet:target-m1")
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
			if tt.stderr != "" && !tt.cancel {
				assert.Contains(t, err.Error(), strings.TrimSpace(tt.stderr))
			}
		})
	}
}

const fileioListOut = `o- fileio .................................... [Storage Objects: 2]
  o- machine_41f8c9d2 ......... [/var/lib/ggnet/images/win11.raw (10.0GiB) write-back activated]
  o- machine_9a0b1c2d ........ [/var/lib/ggnet/images/ubuntu.raw (8.0GiB) write-thru deactivated]
`

func TestParseFileioList(t *testing.T) {
	stores := parseFileioList(fileioListOut)
	assert.Equal(t, map[string]string{
		"machine_41f8c9d2": "/var/lib/ggnet/images/win11.raw",
		"machine_9a0b1c2d": "/var/lib/ggnet/images/ubuntu.raw",
	}, stores)

	assert.Empty(t, parseFileioList("o- fileio ......... [Storage Objects: 0]\n"))
}

func TestBackstorePath(t *testing.T) {
	cli, calls := captureCLI(fileioListOut, "", nil)

	path, ok, err := cli.BackstorePath(context.Background(), "machine_41f8c9d2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/var/lib/ggnet/images/win11.raw", path)
	assert.Equal(t, [][]string{{"ls", "/backstores/fileio", "1"}}, *calls)

	_, ok, err = cli.BackstorePath(context.Background(), "machine_unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

const iscsiListOut = `o- iscsi .............................................. [Targets: 2]
  o- iqn.2025.ggnet:target-m1 ............................ [TPGs: 1]
  o- iqn.2025.ggnet:target-m2 ............................ [TPGs: 1]
`

func TestTargetExists(t *testing.T) {
	cli, _ := captureCLI(iscsiListOut, "", nil)
	ctx := context.Background()

	exists, err := cli.TargetExists(ctx, "iqn.2025.ggnet:target-m1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = cli.TargetExists(ctx, "iqn.2025.ggnet:target-m3")
	require.NoError(t, err)
	assert.False(t, exists)
}

const sessionsDetailOut = `alias: ws1
  sid: 1 type: Normal session-state: LOGGED_IN
  name: iqn.2025.ggnet:initiator-aabbccddeeff
  mapped-lun: 0 backstore: fileio/machine_41f8c9d2 mode: rw
alias: ws2
  sid: 2 type: Normal session-state: LOGGED_OUT
  name: iqn.2025.ggnet:initiator-112233445566
`

func TestCountLoggedIn(t *testing.T) {
	assert.Equal(t, 1, countLoggedIn(sessionsDetailOut, "iqn.2025.ggnet:initiator-aabbccddeeff"))
	assert.Equal(t, 0, countLoggedIn(sessionsDetailOut, "iqn.2025.ggnet:initiator-112233445566"))
	assert.Equal(t, 0, countLoggedIn("(no open sessions)\n", "iqn.2025.ggnet:initiator-aabbccddeeff"))
}

func TestTargetStateAssembly(t *testing.T) {
	portalsOut := "o- portals ............. [Portals: 1]\n  o- 192.168.1.10:3260 ............ [OK]\n"

	cli := NewTargetCLI(config.ISCSI{TargetCLIPath: "targetcli"})
	cli.run = func(_ context.Context, argv []string) (string, string, error) {
		switch {
		case argv[0] == "ls" && argv[1] == "/iscsi":
			return iscsiListOut, "", nil
		case argv[0] == "ls" && strings.Contains(argv[1], "portals"):
			return portalsOut, "", nil
		case argv[0] == "sessions":
			return sessionsDetailOut, "", nil
		}
		return "", "", nil
	}

	st, err := cli.TargetState(context.Background(),
		"iqn.2025.ggnet:target-m1", "iqn.2025.ggnet:initiator-aabbccddeeff")
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.True(t, st.PortalBound)
	assert.Equal(t, 1, st.Initiators)

	st, err = cli.TargetState(context.Background(),
		"iqn.2025.ggnet:target-m3", "iqn.2025.ggnet:initiator-000000000000")
	require.NoError(t, err)
	assert.False(t, st.Present)
}

func TestTargetStateWithoutSessionsCommand(t *testing.T) {
	// Older targetcli builds lack `sessions`; the state read still
	// succeeds with an unknown initiator count.
	cli := NewTargetCLI(config.ISCSI{TargetCLIPath: "targetcli"})
	cli.run = func(_ context.Context, argv []string) (string, string, error) {
		switch {
		case argv[0] == "ls" && argv[1] == "/iscsi":
			return iscsiListOut, "", nil
		case argv[0] == "ls":
			return "o- portals ... [Portals: 0]\n", "", nil
		}
		return "", "unknown command sessions", errors.New("exit status 2")
	}

	st, err := cli.TargetState(context.Background(),
		"iqn.2025.ggnet:target-m1", "iqn.2025.ggnet:initiator-aabbccddeeff")
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.False(t, st.PortalBound)
	assert.Zero(t, st.Initiators)
}
