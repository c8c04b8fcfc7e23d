/*
Package tftp generates the iPXE boot scripts served from the TFTP root.

GGnet never serves TFTP itself; an external daemon (tftpd-hpa or dnsmasq)
exports the root directory. This package owns two kinds of files below
that root and nothing else:

	<root>/boot.ipxe                      generic chainloader
	<root>/machines/<mac-dashes>.ipxe     per-machine boot script

Loader binaries (snponly.efi, ipxe.efi, ipxe32.efi, undionly.kpxe) are
installed by the operator, not generated here.

# Boot Script Chain

	firmware ──option 93──▶ loader (snponly.efi …)
	   loader ──TFTP──▶ boot.ipxe
	      boot.ipxe ──chain──▶ machines/aa-bb-cc-dd-ee-ff.ipxe
	         script ──sanboot──▶ iscsi:<portal>:::0:<iqn>
	            │ failure
	            ├──▶ chain tftp://<next-server>/boot.ipxe
	            └──▶ sanboot --no-describe --drive 0x80   (local disk)

A per-machine script sets the initiator IQN, holds the SAN connection open
for the OS (keep-san), and sanboots LUN 0 of the machine's target. Every
arm of the fallback chain ends at local boot so a machine without an
active session never wedges at the firmware.

# Atomicity

Scripts are written to a sibling .tmp file and renamed into place, mode
0644. The TFTP daemon reads concurrently with our writes; rename keeps a
fetch from ever observing a half-written script.

# Validation

Validate accepts a script iff it has the #!ipxe shebang, a sanboot
directive, and a non-empty iscsi: URL. WriteScript refuses to install
anything that fails its own validator.

# Probe

Probe is a TFTP *client* fetch of boot.ipxe against the external daemon,
used by `ggnetd doctor` to verify the boot path end to end. Failures map
to DaemonUnavailable (daemon unreachable or file missing) or
ProtocolError (file present but not an iPXE script).
*/
package tftp
