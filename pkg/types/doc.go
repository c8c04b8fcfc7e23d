/*
Package types defines the core data structures used throughout GGnet.

This package contains the persisted entities of the diskless-boot control
plane (images, machines, targets, sessions, users) plus the durable
conversion-job row and the event envelope used by the streaming API. All
other packages build on these types for state management, API payloads,
and orchestration logic.

# Core Types

Image:
  - A bootable disk image in the local image store
  - Formats: RAW (served as-is), VHD, VHDX, QCOW2, VMDK (converted to RAW)
  - Status: UPLOADING → PROCESSING → READY, with ERROR and ARCHIVED
  - Checksum is the hex SHA-256 of the final file, set exactly when READY

Machine:
  - A diskless client, keyed by its canonical MAC address
  - BootMode (BIOS, UEFI, UEFI_SECUREBOOT) and FirmwareArch drive which
    boot loader the DHCP steering hands out
  - Status is operator intent (ACTIVE, INACTIVE, MAINTENANCE), not
    liveness; LastSeen records the last boot-script fetch

Target:
  - One iSCSI target exporting one image to one machine at LUN 0
  - IQN form: <prefix>:target-<machine-slug>
  - InitiatorIQN form: <prefix>:initiator-<mac-without-separators>
  - Status: CREATING → ACTIVE → STOPPING → STOPPED, with ERROR

Session:
  - One boot of a machine from an image; the unit the orchestrator manages
  - Status: REQUESTED → PROVISIONING → ACTIVE → STOPPING → STOPPED,
    with REJECTED (failed validation) and FAILED (failed provisioning)
  - EndReason records why a session left ACTIVE

User:
  - Operator identity attached to mutations; roles ADMIN, OPERATOR, VIEWER

ConvertJob:
  - Durable queue row for image conversion; ImageID is the idempotency key

# State Machines

Sessions:

	REQUESTED → PROVISIONING → ACTIVE → STOPPING → STOPPED
	     ↓            ↓
	 REJECTED      FAILED

Images:

	UPLOADING → PROCESSING → READY → ARCHIVED
	     ↓           ↓
	   ERROR       ERROR

Targets:

	CREATING → ACTIVE → STOPPING → STOPPED
	     ↓
	   ERROR

Terminal states (SessionStatus.Terminal) accept no further transitions;
the storage layer enforces this with compare-and-set claims.

# MAC Address Forms

A machine's MAC appears in three derived forms, all computed from the
canonical lowercase colon form stored on the Machine:

	aa:bb:cc:dd:ee:ff   canonical (storage, DHCP reservations)
	aa-bb-cc-dd-ee-ff   TFTP script filename (iPXE ${net0/mac:hexhyp})
	aabbccddeeff        initiator IQN suffix

NormalizeMAC, MACWithDashes and MACCompact implement these derivations.

# Integration Points

  - pkg/storage: persists all types as JSON rows in BoltDB buckets
  - pkg/manager: drives the session state machine
  - pkg/images: owns Image and ConvertJob lifecycles
  - pkg/iscsi: materializes Target rows in the iSCSI daemon
  - pkg/tftp, pkg/dhcp: derive boot artifacts from Machine and Target
  - pkg/api: serves these types directly as JSON

# Thread Safety

Types here are plain data: safe for concurrent reads, callers synchronize
writes. Persisted state is synchronized by the storage layer; in-memory
copies are never shared across goroutines after handoff.
*/
package types
