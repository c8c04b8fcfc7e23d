// Package iscsi exports machine disks as iSCSI targets through the
// kernel LIO stack, driven by the targetcli shell.
//
// # Export layout
//
// Every booting machine gets a dedicated single-LUN target:
//
//	/backstores/fileio/machine_<id>      fileio object over the image file
//	/iscsi/<iqn>/tpg1/luns/lun0          the one LUN the machine boots from
//	/iscsi/<iqn>/tpg1/acls/<initiator>   only that machine's initiator may log in
//	/iscsi/<iqn>/tpg1/portals            bound to the configured portal address
//
// Names are derived, never stored ad hoc: the target IQN appends the
// slugged hostname to the configured prefix, the initiator IQN appends
// the compacted MAC, and the backstore carries the machine ID. The same
// machine therefore always maps to the same daemon objects, which is
// what makes create and destroy idempotent.
//
// # Creation and compensation
//
// CreateFor runs five steps in order: backstore, target, LUN, ACL (plus
// CHAP when configured), portal, then saveconfig. Each completed step
// pushes an undo closure; on failure the closures run in reverse so the
// daemon is left exactly as found. The unwind runs on a fresh timeout
// detached from the caller's context, because a cancelled provisioning
// attempt must still clean up after itself. A backstore that already
// exists with the same backing path is reused (and left alone by the
// unwind); the same name over a different path is a Conflict.
//
// # Serialization
//
// targetcli is not safe to run concurrently. Per-IQN locks serialize
// work on one target inside the process, and a flock under the lock
// directory serializes invocations across processes sharing the host.
//
// # Error taxonomy
//
// Exit conditions map onto the shared error kinds: a missing binary or
// unmounted configfs is DaemonUnavailable, a context timeout is
// Transient, a name collision is Conflict, and any other non-zero exit
// is Fatal with the stderr detail attached.
//
// # Testing
//
// The Configurator interface is the seam: FakeConfigurator implements
// it in memory with scriptable per-operation failures, and TargetCLI's
// runner can be swapped to capture argv without executing anything.
package iscsi
