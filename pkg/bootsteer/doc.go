/*
Package bootsteer maps client firmware architectures to iPXE loaders.

A PXE client announces its firmware class in DHCP option 93 (client system
architecture, RFC 4578). The DHCP daemon must answer with a loader the
firmware can execute: a BIOS ROM needs a PCBIOS build, 32-bit UEFI needs an
IA32 build, and x64 UEFI under SecureBoot only accepts the signed snponly
build. This package owns that mapping and renders it for the DHCP
configuration.

# Loader Selection

	option 93   firmware               loader served
	─────────   ────────────────────   ──────────────
	0x0000      Legacy BIOS            undionly.kpxe
	0x0006      UEFI IA32              ipxe32.efi
	0x0007      UEFI x64               snponly.efi
	0x0009      UEFI x64 HTTP          snponly.efi
	other       unknown                ipxe.efi

The table is configuration data, not code: config.Boot supplies the value →
filename map and the default, so a new firmware class is a config edit. The
x64 UEFI rows are pinned to snponly.efi in the defaults; that build carries
the signature SecureBoot firmware trusts, and swapping in a generic build
breaks Windows 11 boot.

# Usage

	table := bootsteer.New(cfg.Boot.Loaders, cfg.Boot.DefaultLoader)

	table.Loader(iana.EFI_BC)        // "snponly.efi"
	table.LoaderForMachine(machine)  // via the machine's firmware_arch

	// Rendered into the DHCP managed section by pkg/dhcp:
	block := table.Snippet()

Snippet output is an ISC dhcpd if/elsif chain in ascending value order:

	option architecture-type code 93 = unsigned integer 16;
	if option architecture-type = 00:00 {
	    filename "undionly.kpxe";
	} elsif option architecture-type = 00:06 {
	    filename "ipxe32.efi";
	} elsif option architecture-type = 00:07 {
	    filename "snponly.efi";
	} elsif option architecture-type = 00:09 {
	    filename "snponly.efi";
	} else {
	    filename "ipxe.efi";
	}

# Integration Points

  - pkg/config: supplies the loaders map and default
  - pkg/dhcp: embeds Snippet() in the managed section it rewrites
  - cmd/ggnetd doctor: reports the loader each known machine resolves to
*/
package bootsteer
