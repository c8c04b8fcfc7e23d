package bootsteer

import (
	"strings"
	"testing"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

func newDefaultTable() *Table {
	cfg := config.Default()
	return New(cfg.Boot.Loaders, cfg.Boot.DefaultLoader)
}

func TestLoaderTable(t *testing.T) {
	table := newDefaultTable()

	tests := []struct {
		name string
		arch iana.Arch
		want string
	}{
		{"legacy BIOS", iana.INTEL_X86PC, "undionly.kpxe"},
		{"UEFI IA32", iana.EFI_IA32, "ipxe32.efi"},
		{"UEFI x64", iana.EFI_BC, "snponly.efi"},
		{"UEFI x64 HTTP", iana.EFI_X86_64, "snponly.efi"},
		{"unknown Itanium", iana.EFI_ITANIUM, "ipxe.efi"},
		{"unknown ARM64", iana.EFI_ARM64, "ipxe.efi"},
		{"unknown high value", iana.Arch(0x1234), "ipxe.efi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Loader(tt.arch))
		})
	}
}

func TestSecureBootClassesStaySigned(t *testing.T) {
	// Both x64 UEFI classes must resolve to the signed build or Windows 11
	// SecureBoot clients refuse the loader.
	table := newDefaultTable()
	assert.Equal(t, "snponly.efi", table.Loader(iana.Arch(7)))
	assert.Equal(t, "snponly.efi", table.Loader(iana.Arch(9)))
}

func TestLoaderForMachine(t *testing.T) {
	table := newDefaultTable()

	tests := []struct {
		fw   types.FirmwareArch
		want string
	}{
		{types.FirmwareArchX86BIOS, "undionly.kpxe"},
		{types.FirmwareArchX86UEFI, "ipxe32.efi"},
		{types.FirmwareArchX64UEFI, "snponly.efi"},
		{types.FirmwareArchX64UEFIHTTP, "snponly.efi"},
		{types.FirmwareArch("bogus"), "undionly.kpxe"},
	}
	for _, tt := range tests {
		m := &types.Machine{FirmwareArch: tt.fw}
		assert.Equal(t, tt.want, table.LoaderForMachine(m), "firmware %s", tt.fw)
	}
}

func TestSnippetRendering(t *testing.T) {
	table := newDefaultTable()
	snippet := table.Snippet()

	require.True(t, strings.HasPrefix(snippet, "option architecture-type code 93 = unsigned integer 16;\n"))

	assert.Contains(t, snippet, `if option architecture-type = 00:00 {`)
	assert.Contains(t, snippet, `elsif option architecture-type = 00:06 {`)
	assert.Contains(t, snippet, `elsif option architecture-type = 00:07 {`)
	assert.Contains(t, snippet, `elsif option architecture-type = 00:09 {`)
	assert.Contains(t, snippet, `filename "snponly.efi";`)
	assert.Contains(t, snippet, `filename "undionly.kpxe";`)

	// Default loader sits in the else arm, after every elsif.
	elseIdx := strings.Index(snippet, "} else {")
	require.Greater(t, elseIdx, 0)
	assert.Contains(t, snippet[elseIdx:], `filename "ipxe.efi";`)
	assert.False(t, strings.Contains(snippet[elseIdx:], "elsif"))
}

func TestSnippetDeterministicOrder(t *testing.T) {
	table := newDefaultTable()
	first := table.Snippet()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, table.Snippet())
	}

	// Ascending by architecture value regardless of map iteration order.
	i00 := strings.Index(first, "00:00")
	i06 := strings.Index(first, "00:06")
	i07 := strings.Index(first, "00:07")
	i09 := strings.Index(first, "00:09")
	assert.True(t, i00 < i06 && i06 < i07 && i07 < i09)
}

func TestEmptyTableFallsBack(t *testing.T) {
	table := New(nil, "ipxe.efi")

	assert.Equal(t, "ipxe.efi", table.Loader(iana.EFI_BC))
	assert.Equal(t, "ipxe.efi", table.Default())
	assert.Empty(t, table.Archs())

	snippet := table.Snippet()
	assert.Contains(t, snippet, "option architecture-type code 93")
	assert.Contains(t, snippet, `filename "ipxe.efi";`)
	assert.NotContains(t, snippet, "elsif")
}
