package iscsi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
)

// Configurator is the daemon-facing surface the target manager drives.
// The production implementation shells out to targetcli; tests use
// FakeConfigurator.
type Configurator interface {
	CreateBackstore(ctx context.Context, name, path string) error
	DeleteBackstore(ctx context.Context, name string) error
	// BackstorePath returns the backing file of an existing fileio
	// backstore, or exists=false when none is declared under name.
	BackstorePath(ctx context.Context, name string) (path string, exists bool, err error)

	CreateTarget(ctx context.Context, iqn string) error
	DeleteTarget(ctx context.Context, iqn string) error
	TargetExists(ctx context.Context, iqn string) (bool, error)

	CreateLUN(ctx context.Context, iqn, backstore string) error
	CreateACL(ctx context.Context, iqn, initiatorIQN string) error
	SetCHAP(ctx context.Context, iqn, initiatorIQN, user, secret string) error
	CreatePortal(ctx context.Context, iqn, ip string, port int) error

	// TargetState is the daemon's live view, read fresh on every call.
	TargetState(ctx context.Context, iqn, initiatorIQN string) (TargetState, error)

	// SaveConfig persists the running configuration across daemon restarts.
	SaveConfig(ctx context.Context) error
}

// TargetState is what the daemon reports about one target.
type TargetState struct {
	Present     bool
	PortalBound bool
	Initiators  int
}

var (
	fileioLinePattern = regexp.MustCompile(`(?m)^\s*o-\s+(\S+)\s+\.*\s*\[(\S+)\s+\(`)
	iqnLinePattern    = regexp.MustCompile(`(?m)^\s*o-\s+(iqn\S+)`)
	portalLinePattern = regexp.MustCompile(`(?m)^\s*o-\s+\d+\.\d+\.\d+\.\d+:\d+`)
)

// runnerFunc executes one targetcli invocation; split out so tests can
// substitute canned output.
type runnerFunc func(ctx context.Context, argv []string) (stdout, stderr string, err error)

// TargetCLI drives the LIO target through the targetcli binary, one
// invocation per operation so each step has its own exit status.
// Invocations are serialized with an exclusive flock: targetcli holds a
// global lock itself and concurrent runs abort instead of queueing.
type TargetCLI struct {
	path    string
	lockDir string
	run     runnerFunc
}

// NewTargetCLI returns a configurator shelling out to cfg.TargetCLIPath.
func NewTargetCLI(cfg config.ISCSI) *TargetCLI {
	t := &TargetCLI{path: cfg.TargetCLIPath, lockDir: cfg.LockDir}
	t.run = t.execRun
	return t
}

func (t *TargetCLI) CreateBackstore(ctx context.Context, name, path string) error {
	_, err := t.command(ctx, "/backstores/fileio", "create", name, path)
	return err
}

func (t *TargetCLI) DeleteBackstore(ctx context.Context, name string) error {
	_, err := t.command(ctx, "/backstores/fileio", "delete", name)
	return err
}

func (t *TargetCLI) BackstorePath(ctx context.Context, name string) (string, bool, error) {
	out, err := t.command(ctx, "ls", "/backstores/fileio", "1")
	if err != nil {
		return "", false, err
	}
	path, ok := parseFileioList(out)[name]
	return path, ok, nil
}

func (t *TargetCLI) CreateTarget(ctx context.Context, iqn string) error {
	_, err := t.command(ctx, "/iscsi", "create", iqn)
	return err
}

func (t *TargetCLI) DeleteTarget(ctx context.Context, iqn string) error {
	_, err := t.command(ctx, "/iscsi", "delete", iqn)
	return err
}

func (t *TargetCLI) TargetExists(ctx context.Context, iqn string) (bool, error) {
	out, err := t.command(ctx, "ls", "/iscsi", "1")
	if err != nil {
		return false, err
	}
	for _, m := range iqnLinePattern.FindAllStringSubmatch(out, -1) {
		if m[1] == iqn {
			return true, nil
		}
	}
	return false, nil
}

func (t *TargetCLI) CreateLUN(ctx context.Context, iqn, backstore string) error {
	_, err := t.command(ctx, fmt.Sprintf("/iscsi/%s/tpg1/luns", iqn), "create",
		"/backstores/fileio/"+backstore)
	return err
}

func (t *TargetCLI) CreateACL(ctx context.Context, iqn, initiatorIQN string) error {
	_, err := t.command(ctx, fmt.Sprintf("/iscsi/%s/tpg1/acls", iqn), "create", initiatorIQN)
	return err
}

func (t *TargetCLI) SetCHAP(ctx context.Context, iqn, initiatorIQN, user, secret string) error {
	acl := fmt.Sprintf("/iscsi/%s/tpg1/acls/%s", iqn, initiatorIQN)
	if _, err := t.command(ctx, acl, "set", "auth", "userid="+user, "password="+secret); err != nil {
		return err
	}
	_, err := t.command(ctx, fmt.Sprintf("/iscsi/%s/tpg1", iqn), "set", "attribute", "authentication=1")
	return err
}

func (t *TargetCLI) CreatePortal(ctx context.Context, iqn, ip string, port int) error {
	portals := fmt.Sprintf("/iscsi/%s/tpg1/portals", iqn)
	// targetcli binds a default 0.0.0.0:3260 portal at target creation;
	// drop it before binding the configured address. The delete fails
	// harmlessly when no default exists.
	t.command(ctx, portals, "delete", "0.0.0.0", "3260") //nolint:errcheck
	_, err := t.command(ctx, portals, "create", ip, fmt.Sprintf("%d", port))
	return err
}

func (t *TargetCLI) TargetState(ctx context.Context, iqn, initiatorIQN string) (TargetState, error) {
	var st TargetState

	exists, err := t.TargetExists(ctx, iqn)
	if err != nil {
		return st, err
	}
	if !exists {
		return st, nil
	}
	st.Present = true

	pout, err := t.command(ctx, "ls", fmt.Sprintf("/iscsi/%s/tpg1/portals", iqn), "1")
	if err != nil {
		return st, err
	}
	st.PortalBound = portalLinePattern.MatchString(pout)

	// Session listing is best-effort: some targetcli builds lack the
	// sessions command, and a missing count must not fail a status read.
	sout, err := t.command(ctx, "sessions", "detail")
	if err != nil {
		logger := log.WithComponent("iscsi")
		logger.Debug().Err(err).Msg("targetcli sessions not available")
		return st, nil
	}
	st.Initiators = countLoggedIn(sout, initiatorIQN)
	return st, nil
}

func (t *TargetCLI) SaveConfig(ctx context.Context) error {
	_, err := t.command(ctx, "saveconfig")
	return err
}

// command runs one targetcli invocation and maps its failure onto the
// error taxonomy: missing binary or configfs is DaemonUnavailable, a
// context timeout is Transient, a name collision is Conflict, and any
// other non-zero exit is Fatal.
func (t *TargetCLI) command(ctx context.Context, args ...string) (string, error) {
	logger := log.WithComponent("iscsi")
	logger.Debug().
		Str("cmd", shellquote.Join(append([]string{t.path}, args...)...)).
		Msg("targetcli")

	stdout, stderr, err := t.run(ctx, args)
	if err == nil {
		return stdout, nil
	}

	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return "", errors.Wrapf(errdefs.ErrDaemonUnavailable, "targetcli: %v", err)
	case strings.Contains(detail, "configfs"):
		return "", errors.Wrapf(errdefs.ErrDaemonUnavailable, "targetcli %s: %s", args[0], detail)
	case ctx.Err() != nil:
		return "", errors.Wrapf(errdefs.ErrTransient, "targetcli %s: %v", args[0], ctx.Err())
	case strings.Contains(detail, "already exists"):
		return "", errors.Wrapf(errdefs.ErrConflict, "targetcli %s: %s", args[0], detail)
	default:
		return "", errors.Wrapf(errdefs.ErrFatal, "targetcli %s: %s: %v", args[0], detail, err)
	}
}

func (t *TargetCLI) execRun(ctx context.Context, argv []string) (string, string, error) {
	unlock, err := t.flock()
	if err != nil {
		return "", "", err
	}
	defer unlock()

	cmd := exec.CommandContext(ctx, t.path, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return stdout.String(), stderr.String(), err
}

// flock takes the cross-process lock under lockDir for the duration of
// one invocation.
func (t *TargetCLI) flock() (func(), error) {
	if t.lockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(t.lockDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create lock dir %s", t.lockDir)
	}
	f, err := os.OpenFile(filepath.Join(t.lockDir, "targetcli.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open targetcli lock")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "lock targetcli lock")
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck
		f.Close()
	}, nil
}

// parseFileioList extracts name → backing path from `ls /backstores/fileio 1`:
//
//	o- fileio ............. [Storage Objects: 1]
//	  o- machine_ab12 ..... [/var/lib/ggnet/images/win11.raw (10.0GiB) write-back activated]
func parseFileioList(out string) map[string]string {
	stores := make(map[string]string)
	for _, m := range fileioLinePattern.FindAllStringSubmatch(out, -1) {
		if m[1] == "fileio" {
			continue
		}
		stores[m[1]] = m[2]
	}
	return stores
}

// countLoggedIn counts LOGGED_IN sessions for the given initiator in
// `sessions detail` output. Blocks are separated by alias: headers.
func countLoggedIn(out, initiatorIQN string) int {
	count := 0
	for _, block := range strings.Split(out, "alias:") {
		if strings.Contains(block, "name: "+initiatorIQN) && strings.Contains(block, "LOGGED_IN") {
			count++
		}
	}
	return count
}
