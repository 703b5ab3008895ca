// Package cluster implements the master/slave topology of boardd: the access
// guard applied to every inbound connection, the round-robin proxy that
// spreads reads across slaves, slave health probing and the small JSON
// helpers used between nodes.
//
// # Overview
//
// A node runs in exactly one role, fixed at process start:
//
//   - standalone: no master, no slaves; every request is served locally
//   - master: slaves configured; requests are forwarded round-robin to slaves
//     except protected paths (global settings) and everything while in
//     maintenance mode, which the master serves itself
//   - slave: master configured; only the master and loopback may connect,
//     every other peer is disconnected at the transport level
//
// # Architecture
//
//	              ┌──────────────┐
//	 clients ───▶ │    master    │  Guard: forward / local
//	              │  Balancer    │
//	              │  Health Mon  │
//	              └──────┬───────┘
//	                     │ round robin, X-Forwarded-For
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│  slave 1  │ │  slave 2  │ │  slave 3  │  GuardListener: master or
//	└───────────┘ └───────────┘ └───────────┘  loopback, else close
//
// # Core Components
//
// Guard: classifies a peer and path into reject, local or forward
//   - Peers compare by host; ports are ignored
//   - Loopback peers are always trusted
//   - The decision travels in the request context (WithDecision)
//
// GuardListener: wraps the listener of a slave
//   - Rejected connections are closed right after Accept
//   - No byte is read or written on a rejected connection
//
// Balancer: forwards requests to slaves in strict round-robin order
//   - Single attempt per request, no failover
//   - Forwarding failure answers 500
//
// HealthMonitor: probes every slave's /.api/health endpoint
//   - A slave is unhealthy after 3 consecutive failures
//   - Results are informational; the Balancer never consults them
//
// # Thread Safety
//
// Guard is immutable after construction. Balancer and HealthMonitor protect
// their state with mutexes and are safe for concurrent use.
package cluster
