/*
Package storage provides persistent state management for GGnet using BoltDB.

The storage package is the single source of durable truth for the control
plane: images, machines, targets, sessions, users, and the conversion-job
queue all live here as JSON rows in per-entity buckets. Every multi-row
state change in the session orchestrator runs through one transaction, and
every status transition that two goroutines could race on goes through a
compare-and-set claim.

# Architecture

	┌──────────────────── STORAGE LAYER ─────────────────────┐
	│                                                         │
	│  ┌──────────────────────────────────────────┐           │
	│  │             Store interface              │           │
	│  │  CRUD + queries + claims + WithTx        │           │
	│  └──────────────────┬───────────────────────┘           │
	│                     │                                   │
	│  ┌──────────────────▼───────────────────────┐           │
	│  │              BoltStore                   │           │
	│  │  - single writer, serializable updates   │           │
	│  │  - JSON rows, human-readable             │           │
	│  └──────────────────┬───────────────────────┘           │
	│                     │                                   │
	│  ┌──────────────────▼───────────────────────┐           │
	│  │            ggnet.db buckets              │           │
	│  │  images machines targets sessions        │           │
	│  │  users convert_jobs meta                 │           │
	│  └──────────────────────────────────────────┘           │
	│                                                         │
	└─────────────────────────────────────────────────────────┘

# Transactions and Claims

WithTx exposes a Tx handle whose typed getters and putters all run inside
one writable BoltDB transaction:

	err := store.WithTx(func(tx *storage.Tx) error {
		machine, err := tx.GetMachine(machineID)
		if err != nil {
			return err
		}
		if err := tx.CreateSession(session); err != nil {
			return err // rolls back everything
		}
		_, err = tx.ClaimSessionStatus(session.ID,
			types.SessionStatusRequested, types.SessionStatusProvisioning)
		return err
	})

ClaimXStatus(id, from, to) is the compare-and-set primitive: it succeeds
iff the row currently holds status `from`. A losing claim returns a
conflict error (errdefs.IsConflict); a missing row returns not-found.
Because BoltDB admits one writer at a time, a claim plus its surrounding
reads are serializable without any extra locking.

# Integrity Rules Enforced Here

  - Image names are unique among non-ARCHIVED images
  - Machine MAC addresses and hostnames are unique
  - At most one live (CREATING/ACTIVE/STOPPING) target per machine,
    and live IQNs are unique
  - At most one non-terminal session per machine; the check shares a
    transaction with the insert, which serializes concurrent starts
  - Conversion jobs are idempotent by image id: enqueueing over a
    PENDING/RUNNING/DONE job is a no-op, over a FAILED job a revival

# Migrations

The meta bucket carries a schema_version key. Migrate runs the pending
steps inside one transaction and is invoked both by NewBoltStore at
startup and by the offline ggnet-migrate tool (which adds dry-run and
backup handling). Steps are append-only.

# Integration Points

  - pkg/manager: session/target state machine transitions
  - pkg/images: image rows and the conversion queue
  - pkg/api: authentication (user lookup by token) and list endpoints
  - cmd/ggnet-migrate: offline schema migration

# Performance Considerations

Scans (ForEach) back the by-name/by-MAC lookups and the filtered lists; at
control-plane scale (hundreds of machines, not millions) a full-bucket
scan is microseconds and not worth secondary indexes. Claims and writes
serialize on BoltDB's single writer; readers never block.
*/
package storage
