package tftp

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	pintftp "github.com/pin/tftp/v3"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// GenericScriptName is the chainloader the DHCP loaders hand control to.
const GenericScriptName = "boot.ipxe"

// machineScriptTmpl is the per-machine boot script. The sanboot fallback
// chain must end in local boot so a machine with a torn-down session still
// comes up from its own disk instead of hanging at the firmware prompt.
var machineScriptTmpl = template.Must(template.New("machine.ipxe").Parse(`#!ipxe
set initiator-iqn {{.InitiatorIQN}}
set keep-san 1
sanboot {{.SanURI}} || chain tftp://{{.NextServer}}/boot.ipxe || sanboot --no-describe --drive 0x80
`))

// genericScriptTmpl chainloads the machine-specific script by MAC. The
// hexhyp substitution expands to the dash-separated lowercase MAC, matching
// ScriptPath naming.
var genericScriptTmpl = template.Must(template.New("boot.ipxe").Parse(`#!ipxe
chain machines/${net0/mac:hexhyp}.ipxe || sanboot --no-describe --drive 0x80
`))

var iscsiURLPattern = regexp.MustCompile(`iscsi:\S+`)

// ScriptWriter materializes iPXE scripts under the TFTP root. The TFTP
// daemon itself is external; this writer only owns files below root.
type ScriptWriter struct {
	root       string
	nextServer string
}

// NewScriptWriter returns a writer rooted at root. nextServer is the TFTP
// host the generic fallback chain fetches boot.ipxe from.
func NewScriptWriter(root, nextServer string) *ScriptWriter {
	return &ScriptWriter{root: root, nextServer: nextServer}
}

// ScriptPath returns the per-machine script location:
// <root>/machines/<mac-with-dashes>.ipxe.
func (w *ScriptWriter) ScriptPath(m *types.Machine) string {
	return filepath.Join(w.root, "machines", types.MACWithDashes(m.MACAddress)+".ipxe")
}

// SanURI renders the iPXE iSCSI root path for a target:
// iscsi:<server>:<protocol>:<port>:<lun>:<iqn> with protocol always empty
// and port omitted at the default 3260.
func SanURI(t *types.Target) string {
	port := ""
	if t.PortalPort != 0 && t.PortalPort != 3260 {
		port = fmt.Sprintf("%d", t.PortalPort)
	}
	return fmt.Sprintf("iscsi:%s::%s:%d:%s", t.PortalIP, port, t.LUNID, t.IQN)
}

// WriteScript renders and atomically installs the boot script for machine,
// pointing at target. Returns the installed path.
func (w *ScriptWriter) WriteScript(m *types.Machine, t *types.Target) (string, error) {
	var buf bytes.Buffer
	err := machineScriptTmpl.Execute(&buf, struct {
		InitiatorIQN string
		SanURI       string
		NextServer   string
	}{
		InitiatorIQN: t.InitiatorIQN,
		SanURI:       SanURI(t),
		NextServer:   w.nextServer,
	})
	if err != nil {
		return "", errors.Wrap(err, "render boot script")
	}
	if !Validate(buf.String()) {
		return "", errors.Wrapf(errdefs.ErrFatal, "rendered script for %s failed validation", m.MACAddress)
	}

	path := w.ScriptPath(m)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	log.WithComponent("tftp").Debug().
		Str("machine_id", m.ID).
		Str("path", path).
		Msg("Boot script written")
	return path, nil
}

// WriteGenericScript installs boot.ipxe at the TFTP root. Safe to call at
// every startup; the content is identical each time.
func (w *ScriptWriter) WriteGenericScript() (string, error) {
	var buf bytes.Buffer
	if err := genericScriptTmpl.Execute(&buf, nil); err != nil {
		return "", errors.Wrap(err, "render generic script")
	}
	path := filepath.Join(w.root, GenericScriptName)
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveScript deletes the machine's boot script. Absence is success.
func (w *ScriptWriter) RemoveScript(m *types.Machine) error {
	err := os.Remove(w.ScriptPath(m))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "remove boot script for %s", m.MACAddress)
	}
	return nil
}

// ReadScript returns the current boot script text for machine.
func (w *ScriptWriter) ReadScript(m *types.Machine) (string, error) {
	data, err := os.ReadFile(w.ScriptPath(m))
	if errors.Is(err, fs.ErrNotExist) {
		return "", errors.Wrapf(errdefs.ErrNotFound, "no boot script for machine %s", m.MACAddress)
	}
	if err != nil {
		return "", errors.Wrapf(err, "read boot script for %s", m.MACAddress)
	}
	return string(data), nil
}

// HasScript reports whether the machine's boot script exists on disk.
func (w *ScriptWriter) HasScript(m *types.Machine) bool {
	_, err := os.Stat(w.ScriptPath(m))
	return err == nil
}

// Validate reports whether text is an acceptable per-machine boot script:
// the #!ipxe shebang, a sanboot directive, and a non-empty iSCSI URL.
func Validate(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, "#!ipxe") {
		return false
	}
	if !strings.Contains(text, "sanboot") {
		return false
	}
	return iscsiURLPattern.MatchString(text)
}

// writeFileAtomic writes data via a sibling tmp file and rename so the TFTP
// daemon never serves a torn script. Mode 0644: the daemon runs unprivileged.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", path)
	}
	return nil
}

// Probe fetches boot.ipxe from the TFTP daemon at addr (host:port) and
// checks it looks like an iPXE script. Used by preflight checks; the server
// itself never speaks TFTP.
func Probe(ctx context.Context, addr string) error {
	client, err := pintftp.NewClient(addr)
	if err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "tftp %s: %v", addr, err)
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	client.SetTimeout(timeout)

	wt, err := client.Receive(GenericScriptName, "octet")
	if err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "tftp %s: receive %s: %v", addr, GenericScriptName, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return errors.Wrapf(errdefs.ErrDaemonUnavailable, "tftp %s: read %s: %v", addr, GenericScriptName, err)
	}
	if !strings.HasPrefix(buf.String(), "#!ipxe") {
		return errors.Wrapf(errdefs.ErrProtocol, "tftp %s: %s is not an iPXE script", addr, GenericScriptName)
	}
	return nil
}
