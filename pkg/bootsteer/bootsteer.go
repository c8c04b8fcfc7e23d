package bootsteer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/insomniacslk/dhcp/iana"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Table resolves a DHCP option 93 client system architecture value to the
// iPXE loader filename the DHCP daemon hands out. The mapping is loaded
// from configuration so new firmware classes need no code change.
type Table struct {
	loaders map[iana.Arch]string
	def     string
}

// New builds a Table from the configured value → filename map. Unknown
// architecture values fall back to defaultLoader.
func New(loaders map[int]string, defaultLoader string) *Table {
	t := &Table{
		loaders: make(map[iana.Arch]string, len(loaders)),
		def:     defaultLoader,
	}
	for v, name := range loaders {
		t.loaders[iana.Arch(v)] = name
	}
	return t
}

// Loader returns the filename served for the given architecture value.
func (t *Table) Loader(arch iana.Arch) string {
	if name, ok := t.loaders[arch]; ok {
		return name
	}
	return t.def
}

// Default returns the fallback loader for unlisted architecture values.
func (t *Table) Default() string {
	return t.def
}

// Archs returns the configured architecture values in ascending order.
func (t *Table) Archs() []iana.Arch {
	archs := make([]iana.Arch, 0, len(t.loaders))
	for a := range t.loaders {
		archs = append(archs, a)
	}
	sort.Slice(archs, func(i, j int) bool { return archs[i] < archs[j] })
	return archs
}

// ArchForFirmware maps a machine's recorded firmware class onto the option
// 93 value its PXE ROM reports. x64 UEFI firmware reports 7, which the IANA
// registry still names EFI_BC; 9 covers the HTTP-capable class.
func ArchForFirmware(fw types.FirmwareArch) iana.Arch {
	switch fw {
	case types.FirmwareArchX86BIOS:
		return iana.INTEL_X86PC
	case types.FirmwareArchX86UEFI:
		return iana.EFI_IA32
	case types.FirmwareArchX64UEFI:
		return iana.EFI_BC
	case types.FirmwareArchX64UEFIHTTP:
		return iana.EFI_X86_64
	default:
		return iana.INTEL_X86PC
	}
}

// LoaderForMachine returns the filename the machine's firmware will be
// steered to at boot.
func (t *Table) LoaderForMachine(m *types.Machine) string {
	return t.Loader(ArchForFirmware(m.FirmwareArch))
}

// Snippet renders the option 93 steering block for an ISC dhcpd
// configuration: an option declaration followed by an if/elsif chain
// selecting filename by architecture value, with the default loader in the
// else arm. Values render as two hex octets (7 → 00:07), the literal form
// dhcpd compares 16-bit options against.
func (t *Table) Snippet() string {
	var b strings.Builder
	b.WriteString("option architecture-type code 93 = unsigned integer 16;\n")

	archs := t.Archs()
	if len(archs) == 0 {
		fmt.Fprintf(&b, "filename %q;\n", t.def)
		return b.String()
	}
	for i, a := range archs {
		kw := "if"
		if i > 0 {
			kw = "} elsif"
		}
		fmt.Fprintf(&b, "%s option architecture-type = %02x:%02x {\n", kw, uint16(a)>>8, uint16(a)&0xff)
		fmt.Fprintf(&b, "    filename %q;\n", t.loaders[a])
	}
	b.WriteString("} else {\n")
	fmt.Fprintf(&b, "    filename %q;\n", t.def)
	b.WriteString("}\n")
	return b.String()
}
