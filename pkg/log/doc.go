/*
Package log provides structured logging for GGnet using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                    │           │
	│  │  - WithComponent("manager")                │           │
	│  │  - WithMachineID("machine-abc123")         │           │
	│  │  - WithSessionID("session-xyz")            │           │
	│  │  - WithImageID("image-def456")             │           │
	│  │  - WithTargetIQN("iqn...:target-ws-42")    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "iscsi",                   │           │
	│  │    "iqn": "iqn...:target-ws-42",           │           │
	│  │    "time": "2025-06-02T10:30:00Z",         │           │
	│  │    "message": "target created"             │           │
	│  │  }                                         │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Log Levels

Debug:
  - Detailed tracing: targetcli invocations, DHCP file rewrites,
    per-chunk upload offsets
  - Development and troubleshooting only

Info:
  - Lifecycle events: session started, image ready, target destroyed
  - Default production level

Warn:
  - Recoverable oddities: duplicate boot-script fetch for a stopped
    session, DHCP reload retried

Error:
  - Failed operations: provisioning compensation, conversion failure,
    iSCSI daemon errors

Fatal:
  - Unrecoverable startup errors only; logs and exits the process

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging with context:

	sessLog := log.WithSessionID(session.ID)
	sessLog.Info().
		Str("machine_id", m.ID).
		Str("image_id", img.ID).
		Msg("Session provisioning started")

	log.Logger.Error().
		Err(err).
		Str("iqn", target.IQN).
		Msg("Target creation failed, unwinding")

Component loggers:

	iscsiLog := log.WithComponent("iscsi")
	iscsiLog.Debug().Str("backstore", name).Msg("Creating fileio backstore")

# Integration Points

  - pkg/manager: session orchestration and recovery logs
  - pkg/images: upload and conversion progress
  - pkg/iscsi: targetcli command tracing
  - pkg/dhcp: reservation edits and reload results
  - pkg/api: request logging middleware

# Design Notes

The global-logger pattern keeps call sites terse in deeply nested
orchestration code; child loggers carry machine/session/image context so
a single boot can be traced end to end by session_id. Never log CHAP
secrets or bearer tokens; callers pass identifiers, not credentials.
*/
package log
