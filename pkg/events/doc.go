/*
Package events provides an in-memory event broker for GGnet's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting boot
control plane events to interested subscribers. Session transitions, image
lifecycle changes and infrastructure actions are published here and fanned
out to WebSocket consoles and the metrics layer, keeping provisioning code
decoupled from its observers.

# Architecture

GGnet's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking delivery                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Session Events:                            │          │
	│  │    - session.requested → session.active     │          │
	│  │    - session.stopped / rejected / failed    │          │
	│  │                                              │          │
	│  │  Image Events:                              │          │
	│  │    - image.uploading → image.ready          │          │
	│  │    - image.error, image.archived            │          │
	│  │                                              │          │
	│  │  Target Events:                             │          │
	│  │    - target.created, target.destroyed       │          │
	│  │                                              │          │
	│  │  Infrastructure Events:                     │          │
	│  │    - dhcp.reloaded                          │          │
	│  │    - recovery.started, recovery.done        │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: Stream events over WebSocket   │          │
	│  │  Consoles: Live session dashboards          │          │
	│  │  Audit: Persist notable events (future)     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking broadcast (buffered channels)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier (assigned on publish when empty)
  - Type: Event type (session.active, image.ready, etc.)
  - Timestamp: When event occurred (UTC, assigned when zero)
  - Message: Human-readable description
  - Metadata: Entity IDs for linking (machine_id, session_id, image_id, iqn)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Missing ID and Timestamp filled in
 3. Event added to main event channel
 4. Broadcast loop receives event
 5. Event sent to all subscriber channels
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created and registered
 3. Subscriber receives events via channel
 4. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed (repeat calls are no-ops)

# Usage

Creating and Starting Broker:

	import "github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	broker.Publish(&events.Event{
		Type:    events.EventSessionActive,
		Message: "Session active for machine ws-017",
		Metadata: map[string]string{
			"session_id": "a9b3...",
			"machine_id": "77f2...",
			"iqn":        "iqn.2025.ggnet:ws-017",
		},
	})

Filtering Events by Type:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventSessionFailed:
				alertOperator(event)
			case events.EventImageReady:
				refreshImageList(event)
			default:
				// Ignore other events
			}
		}
	}()

# Integration Points

This package integrates with:

  - pkg/manager: Publishes session, image and target state changes
  - pkg/images: Publishes upload and conversion progress
  - pkg/api: Streams events to WebSocket clients on /v1/events
  - cmd/ggnetd: Wires broker lifecycle to daemon start/stop

# Event Types Catalog

Session Events:

EventSessionRequested / EventSessionProvisioning / EventSessionActive:
  - Published when: Session advances through provisioning
  - Metadata: session_id, machine_id, image_id
  - Subscribers: Consoles tracking boot progress

EventSessionStopped / EventSessionRejected / EventSessionFailed:
  - Published when: Session reaches a terminal state
  - Metadata: session_id, machine_id, image_id, status; the message
    carries the end reason
  - Subscribers: Consoles, alerting

Image Events:

EventImageReady:
  - Published when: Upload finalized or conversion completed
  - Metadata: image_id; the message names the image
  - Subscribers: Consoles refreshing image pickers

EventImageError:
  - Published when: Upload aborted or interrupted, size mismatch,
    conversion failure
  - Metadata: image_id; the message carries the cause
  - Subscribers: Alerting

Target Events:

EventTargetCreated / EventTargetDestroyed:
  - Published when: iSCSI export appears or is torn down
  - Metadata: target_id, machine_id, iqn
  - Subscribers: Consoles, audit

Infrastructure Events:

EventDHCPReloaded:
  - Published when: dhcpd acknowledged a configuration change; a
    rejected reload surfaces as an error, not an event
  - Subscribers: Audit

EventRecoveryStarted / EventRecoveryDone:
  - Published when: Startup reconciliation runs; the done message
    summarizes sessions, conversions and uploads touched
  - Subscribers: Consoles, audit

# Design Patterns

Non-Blocking Delivery:
  - Broadcast sends to buffered subscriber channels
  - Events may be dropped if a buffer is full
  - Trade-off: Provisioning latency over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for monitoring, never for state transitions

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)

Workarounds:
  - History: Session and image records carry their own timestamps
  - Filtering: Filter at subscriber side by event type
  - Guaranteed state: Never derive state from events; read the store

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in a goroutine
  - Filter events by type at the subscriber
  - Include entity IDs in metadata

Don't:
  - Block in the subscriber event loop
  - Publish events before broker.Start()
  - Rely on event delivery for correctness

# See Also

  - pkg/manager for state transitions that publish events
  - pkg/api for WebSocket event streaming
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
