package dhcp

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Sentinels bracketing the managed section. Everything between them
// belongs to GGnet; everything outside is preserved byte for byte.
const (
	SentinelBegin = "# BEGIN GGNET MANAGED"
	SentinelEnd   = "# END GGNET MANAGED"
)

var (
	hostBlockPattern = regexp.MustCompile(`(?m)^host\s+(\S+)\s*\{([^}]*)\}`)
	hardwarePattern  = regexp.MustCompile(`hardware\s+ethernet\s+([0-9A-Fa-f:]+)\s*;`)
	fixedAddrPattern = regexp.MustCompile(`fixed-address\s+([0-9A-Fa-f:.]+)\s*;`)
)

// Reservation is one managed host entry in the DHCP configuration.
type Reservation struct {
	Hostname string
	MAC      string
	IP       string
}

// Adapter owns the managed section of the DHCP daemon's configuration
// file. Edits happen as a single atomic rewrite: read whole file, mutate
// the managed section in memory, write <path>.tmp, rename. The last
// content the daemon acknowledged (via a successful Reload) is kept in
// memory so a rejected config can be rolled back.
type Adapter struct {
	mu         sync.Mutex
	path       string
	nextServer string
	steering   string
	reloader   Reloader
	lastGood   []byte
}

// NewAdapter returns an adapter for the configuration file at path.
// steering is the rendered option 93 block (bootsteer.Table.Snippet);
// nextServer, when non-empty, is emitted as the global next-server. A
// missing file is treated as empty and created on first edit.
func NewAdapter(path, nextServer, steering string, reloader Reloader) (*Adapter, error) {
	a := &Adapter{
		path:       path,
		nextServer: nextServer,
		steering:   steering,
		reloader:   reloader,
	}
	content, err := a.readFile()
	if err != nil {
		return nil, err
	}
	a.lastGood = content
	return a, nil
}

// AddReservation inserts (or refreshes) the host entry for machine.
// A second add with identical values leaves the file untouched.
func (a *Adapter) AddReservation(m *types.Machine) error {
	res := Reservation{
		Hostname: m.Hostname,
		MAC:      m.MACAddress,
		IP:       m.IPAddress,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mutate(func(hosts map[string]Reservation) bool {
		if existing, ok := hosts[res.Hostname]; ok && existing == res {
			return false
		}
		hosts[res.Hostname] = res
		return true
	})
}

// RemoveReservation drops the host entry for machine. Absence is success.
func (a *Adapter) RemoveReservation(m *types.Machine) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mutate(func(hosts map[string]Reservation) bool {
		if _, ok := hosts[m.Hostname]; !ok {
			return false
		}
		delete(hosts, m.Hostname)
		return true
	})
}

// HasReservation reports whether a host entry for hostname exists.
func (a *Adapter) HasReservation(hostname string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	content, err := a.readFile()
	if err != nil {
		return false, err
	}
	_, managed, _, _ := splitManaged(string(content))
	_, ok := parseReservations(managed)[hostname]
	return ok, nil
}

// Reservations returns the managed host entries sorted by hostname.
func (a *Adapter) Reservations() ([]Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	content, err := a.readFile()
	if err != nil {
		return nil, err
	}
	_, managed, _, _ := splitManaged(string(content))
	hosts := parseReservations(managed)
	out := make([]Reservation, 0, len(hosts))
	for _, name := range sortedNames(hosts) {
		out = append(out, hosts[name])
	}
	return out, nil
}

// Sync rewrites the managed section from current configuration without
// touching reservations. Run at startup: it installs the section (and the
// loader steering) into files that predate GGnet, and refreshes the
// steering block after a config change.
func (a *Adapter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	content, err := a.readFile()
	if err != nil {
		return err
	}
	prefix, managed, suffix, _ := splitManaged(string(content))
	out := a.render(prefix, suffix, parseReservations(managed))
	if out == string(content) {
		return nil
	}
	return writeFileAtomic(a.path, []byte(out))
}

// Reload asks the daemon to pick up the current file. On success the
// content becomes the new rollback point; on failure the previous
// acknowledged content is restored and ConfigRejected returned.
func (a *Adapter) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.readFile()
	if err != nil {
		return err
	}
	if err := a.reloader.Reload(ctx); err != nil {
		metrics.DHCPReloadsTotal.WithLabelValues("failed").Inc()
		if restoreErr := writeFileAtomic(a.path, a.lastGood); restoreErr != nil {
			logger := log.WithComponent("dhcp")
			logger.Error().
				Err(restoreErr).
				Str("path", a.path).
				Msg("Rollback after failed reload did not restore the file")
		}
		return errors.Wrapf(errdefs.ErrConfigRejected, "dhcp reload: %v", err)
	}
	metrics.DHCPReloadsTotal.WithLabelValues("ok").Inc()
	a.lastGood = current
	logger := log.WithComponent("dhcp")
	logger.Debug().Str("path", a.path).Msg("dhcpd reloaded")
	return nil
}

// mutate applies f to the parsed host entries and rewrites the file when f
// reports a change. Caller holds a.mu.
func (a *Adapter) mutate(f func(map[string]Reservation) bool) error {
	content, err := a.readFile()
	if err != nil {
		return err
	}
	prefix, managed, suffix, _ := splitManaged(string(content))
	hosts := parseReservations(managed)
	if !f(hosts) {
		return nil
	}
	return writeFileAtomic(a.path, []byte(a.render(prefix, suffix, hosts)))
}

func (a *Adapter) readFile() ([]byte, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", a.path)
	}
	return data, nil
}

// render reassembles the whole file: untouched prefix, regenerated managed
// section, untouched suffix. Host entries render in hostname order so the
// output is deterministic.
func (a *Adapter) render(prefix, suffix string, hosts map[string]Reservation) string {
	var b strings.Builder
	b.WriteString(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(SentinelBegin + "\n")
	if a.nextServer != "" {
		fmt.Fprintf(&b, "next-server %s;\n", a.nextServer)
	}
	b.WriteString(a.steering)
	for _, name := range sortedNames(hosts) {
		r := hosts[name]
		b.WriteByte('\n')
		fmt.Fprintf(&b, "host %s {\n", r.Hostname)
		fmt.Fprintf(&b, "    hardware ethernet %s;\n", r.MAC)
		if r.IP != "" {
			fmt.Fprintf(&b, "    fixed-address %s;\n", r.IP)
		}
		b.WriteString("}\n")
	}
	b.WriteString(SentinelEnd + "\n")
	b.WriteString(suffix)
	return b.String()
}

// splitManaged cuts content into the bytes before the BEGIN sentinel line,
// the managed body, and the bytes after the END sentinel line. found is
// false when no sentinels exist yet; the whole file is then prefix.
func splitManaged(content string) (prefix, managed, suffix string, found bool) {
	begin := strings.Index(content, SentinelBegin)
	if begin == -1 {
		return content, "", "", false
	}
	bodyStart := begin + len(SentinelBegin)
	if nl := strings.IndexByte(content[bodyStart:], '\n'); nl != -1 {
		bodyStart += nl + 1
	} else {
		bodyStart = len(content)
	}
	end := strings.Index(content[bodyStart:], SentinelEnd)
	if end == -1 {
		// Unterminated section: claim the rest of the file.
		return content[:begin], content[bodyStart:], "", true
	}
	end += bodyStart
	afterEnd := end + len(SentinelEnd)
	if nl := strings.IndexByte(content[afterEnd:], '\n'); nl != -1 {
		afterEnd += nl + 1
	} else {
		afterEnd = len(content)
	}
	return content[:begin], content[bodyStart:end], content[afterEnd:], true
}

func parseReservations(managed string) map[string]Reservation {
	hosts := make(map[string]Reservation)
	for _, block := range hostBlockPattern.FindAllStringSubmatch(managed, -1) {
		res := Reservation{Hostname: block[1]}
		body := block[2]
		if m := hardwarePattern.FindStringSubmatch(body); m != nil {
			res.MAC = strings.ToLower(m[1])
		}
		if m := fixedAddrPattern.FindStringSubmatch(body); m != nil {
			res.IP = m[1]
		}
		hosts[res.Hostname] = res
	}
	return hosts
}

func sortedNames(hosts map[string]Reservation) []string {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// writeFileAtomic goes through a sibling tmp file and rename so the daemon
// never reads a torn config.
func writeFileAtomic(path string, data []byte) error {
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
