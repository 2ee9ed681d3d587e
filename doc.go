// Package camlink provides a resilient client session to a remote camera
// service: one WebSocket carrying JSON-RPC 2.0 calls and server-pushed
// notifications, with automatic reconnection, credential refresh, and
// ordered event delivery.
//
// # Architecture
//
// The client is layered so each concern is independently testable:
//
//	┌─────────────────────────────────────┐
//	│           client.Client             │  Lifecycle state machine
//	│ (connect, reconnect, heartbeat)     │  and public facade
//	└─────────────────────────────────────┘
//	        ↓ calls              ↓ events
//	┌────────────────┐   ┌────────────────┐
//	│ rpc.Correlator │   │ router.Router  │  Request/response matching;
//	│ auth.Session   │   │ state mirrors  │  dedup + ordered dispatch
//	└────────────────┘   └────────────────┘
//	               ↓ frames
//	┌─────────────────────────────────────┐
//	│        transport.WSTransport        │  Raw duplex WebSocket,
//	│   (gorilla/websocket, one live)     │  no protocol knowledge
//	└─────────────────────────────────────┘
//
// # Connection Lifecycle
//
// The client moves through five states:
//
//	Disconnected → Connecting → Authenticating → Ready
//	                   ↑                           │
//	                   └──────  Reconnecting  ◄────┘
//
// A dropped transport fails every in-flight call immediately, then the
// reconnect loop re-establishes the session under a bounded exponential
// backoff schedule. On each successful reconnect the desired subscription
// set is replayed in full; subscribing is idempotent server-side, so the
// replay never double-registers.
//
// # Guarantees
//
//   - At most one live transport exists at any time.
//   - Every call resolves exactly once: response, timeout, cancellation,
//     or connection loss.
//   - Request ids are never reused across transport generations, so a
//     stale response can never match a new request.
//   - Per-category sequence numbers deduplicate at-least-once delivery;
//     a bounded reorder buffer repairs short inversions without
//     sacrificing liveness.
//
// # Packages
//
// Core:
//   - client: connection manager and public facade
//   - transport: raw WebSocket duplex channel
//   - protocol: JSON-RPC 2.0 envelopes and frame classification
//   - rpc: request/response correlation
//   - auth: session credential lifecycle
//   - subscription: desired-set tracking and replay
//   - router: notification dedup, ordering, and dispatch
//   - state: local mirrors of camera service domain state
//
// Infrastructure:
//   - errors: classified error taxonomy
//   - health: heartbeat-derived connection scoring
//   - metric: Prometheus metrics and scrape endpoint
//   - config: YAML configuration
//   - pkg/retry: bounded backoff policies
//   - pkg/buffer: generic bounded ring
//
// # Binary
//
// The camlink daemon mirrors live camera state and serves metrics:
//
//	camlink --config configs/camlink.yaml
package camlink
