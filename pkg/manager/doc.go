/*
Package manager composes the GGnet control plane and owns the session
state machine.

The manager is the single facade the API server talks to. It wires the
BoltDB store, the image service and the three daemon adapters (iSCSI,
TFTP, DHCP) together and orchestrates them so that no caller ever
observes a half-provisioned machine.

# Architecture

	┌────────────────────── CONTROL PLANE ──────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────┐              │
	│  │           HTTP API (pkg/api)             │              │
	│  └───────────────────┬──────────────────────┘              │
	│                      │                                     │
	│  ┌───────────────────▼──────────────────────┐              │
	│  │              Manager                     │              │
	│  │  - machine / image / session CRUD        │              │
	│  │  - StartSession / StopSession            │              │
	│  │  - recovery at startup                   │              │
	│  │  - bearer-token auth                     │              │
	│  └──┬──────────┬──────────┬──────────┬──────┘              │
	│     │          │          │          │                     │
	│  ┌──▼───┐  ┌───▼────┐ ┌───▼────┐ ┌───▼─────┐               │
	│  │iscsi │  │ tftp   │ │ dhcp   │ │ images  │               │
	│  │      │  │Script  │ │Adapter │ │ Service │               │
	│  │      │  │Writer  │ │        │ │         │               │
	│  └──┬───┘  └───┬────┘ └───┬────┘ └───┬─────┘               │
	│     │          │          │          │                     │
	│  targetcli   TFTP root  dhcpd.conf  qemu-img               │
	│  (subprocess) (files)   (+ reload)  (subprocess)           │
	│                                                            │
	│  ┌──────────────────────────────────────────┐              │
	│  │            BoltDB store                  │              │
	│  │  machines, images, targets, sessions,    │              │
	│  │  users, conversion queue                 │              │
	│  └──────────────────────────────────────────┘              │
	└────────────────────────────────────────────────────────────┘

# Session lifecycle

A session passes through a closed set of states:

	REQUESTED → PROVISIONING → ACTIVE → STOPPING → STOPPED
	     │            │                     │
	     ▼            ▼                     ▼
	 REJECTED       FAILED                FAILED

StartSession claims the machine inside one store transaction: the
session row and the target row are created together, and the store's
uniqueness rules (one non-terminal session per machine, one live target
per machine) make the claim a compare-and-set. Concurrent starts on the
same machine collapse to a single winner; the loser gets a conflict.

Provisioning then runs outside the transaction, in fixed order:

 1. iSCSI target (backstore, target, LUN, ACL, portal)
 2. per-machine iPXE boot script under the TFTP root
 3. DHCP host reservation
 4. dhcpd reload

Each step runs under a bounded deadline and transient failures retry
once with backoff. Any failure undoes the completed steps in reverse
order on a context detached from the caller, and the session lands in
FAILED with the compound reason. Only after all four steps succeed does
a second transaction flip session and target to ACTIVE, so a reader
polling the store sees either "in progress" or a fully materialized
boot chain, never a fragment.

StopSession reverses the order: reservation, reload, script, target.
Stop is idempotent (a terminal session returns unchanged) and runs to
completion once the ACTIVE → STOPPING claim succeeds, caller
cancellation included.

# Recovery

Recover runs at startup before the API serves. It requeues conversions
that were RUNNING when the process died and walks every non-terminal
session:

  - REQUESTED / PROVISIONING: the process died mid-start. The teardown
    runs against whatever was built and the session becomes FAILED.
  - ACTIVE: the target's live state, the boot script and the DHCP
    reservation are re-checked. All three present leaves the session
    running; anything missing stops it with a reconciliation reason.
  - STOPPING: the stop is finished.

# Authentication

Users are store rows carrying a bearer token and a role (ADMIN,
OPERATOR, VIEWER). EnsureBootstrapUser seeds the admin account from the
configured bootstrap token on first start.
*/
package manager
