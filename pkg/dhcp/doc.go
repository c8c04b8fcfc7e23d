/*
Package dhcp maintains GGnet's managed section of the DHCP configuration.

The DHCP daemon (isc-dhcp-server or dnsmasq in dhcpd-conf mode) is
external; GGnet only edits its configuration file and asks it to reload.
Ownership is scoped by two sentinel lines:

	# BEGIN GGNET MANAGED
	...everything here belongs to GGnet...
	# END GGNET MANAGED

Bytes outside the sentinels are preserved verbatim across every edit, so
operator-written subnets, leases, and includes survive untouched. A file
that predates GGnet gets the section appended on first use.

# Managed Section Layout

	# BEGIN GGNET MANAGED
	next-server 192.168.1.10;
	option architecture-type code 93 = unsigned integer 16;
	if option architecture-type = 00:00 {
	    filename "undionly.kpxe";
	} elsif option architecture-type = 00:07 {
	    filename "snponly.efi";
	...
	} else {
	    filename "ipxe.efi";
	}

	host m1 {
	    hardware ethernet aa:bb:cc:dd:ee:ff;
	    fixed-address 192.168.1.50;
	}
	# END GGNET MANAGED

The global block (next-server plus the option 93 steering from
pkg/bootsteer) is regenerated on every write; host entries render in
hostname order so repeated runs produce identical files.

# Edit Protocol

Every mutation is one atomic rewrite under a single mutex:

	read whole file → mutate section in memory → write <path>.tmp → rename

AddReservation and RemoveReservation are idempotent: adding an identical
entry or removing an absent one does not touch the file.

# Reload and Rollback

Reload is decoupled from edits so one reload can acknowledge a batch.
The adapter remembers the file content as of the last successful reload;
when the daemon rejects a config (non-zero reload), that content is
written back and the caller gets ConfigRejected. The orchestrator treats
ConfigRejected as a provisioning failure and compensates.

Three reload strategies, chosen by configuration:

  - SystemdReloader: ReloadOrRestartUnit over the system D-Bus
    (isc-dhcp-server cannot reload, so systemd restarts it)
  - CommandReloader: an operator-supplied command, split with shlex
  - SignalReloader: SIGHUP at the pid from a pidfile (dnsmasq)

FakeReloader stands in for the daemon in tests.
*/
package dhcp
