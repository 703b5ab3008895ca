package cluster

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/exp/slices"
)

// Role is the cluster role of this node.
type Role int

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "standalone"
	}
}

// Action is what the node does with a request.
type Action int

const (
	// ActionLocal serves the request on this node.
	ActionLocal Action = iota
	// ActionForward hands the request to the Balancer.
	ActionForward
	// ActionReject drops the connection without a response.
	ActionReject
)

// Decision is the Guard's verdict for one request.
type Decision struct {
	Action       Action
	TrustedProxy bool // peer may set X-Forwarded-For
	FromSlave    bool // peer is a configured slave
}

// protectedPrefixes are always served by the master.
var protectedPrefixes = []string{
	"/globalSettings",
	"/saveGlobalSettings",
	"/.api/saveGlobalSettings",
}

// Guard classifies peers according to the configured topology.
// It is immutable and safe for concurrent use.
type Guard struct {
	role        Role
	master      string
	slaves      []string
	maintenance bool
}

// NewGuard creates a guard for the given topology. master and slaves are
// addresses, with or without a port; only the host part is compared.
// maintenance is only honored on a master.
//
// Example:
//
//	g := NewGuard("", []string{"10.0.0.2", "10.0.0.3"}, false)
//	d := g.Classify("203.0.113.9", "/a/")
//	// d.Action == ActionForward
func NewGuard(master string, slaves []string, maintenance bool) *Guard {
	g := &Guard{master: hostOf(master), maintenance: maintenance && master == ""}
	for _, s := range slaves {
		g.slaves = append(g.slaves, hostOf(s))
	}
	switch {
	case g.master != "":
		g.role = RoleSlave
	case len(g.slaves) > 0:
		g.role = RoleMaster
	}
	return g
}

// Role returns the node's role.
func (g *Guard) Role() Role {
	return g.role
}

// Accepts reports whether a connection from peerHost may reach this node at
// all. Only slaves refuse connections.
func (g *Guard) Accepts(peerHost string) bool {
	if g.role != RoleSlave {
		return true
	}
	return peerHost == g.master || IsLoopback(peerHost)
}

// Known reports whether host is loopback, the master or one of the slaves.
func (g *Guard) Known(host string) bool {
	host = hostOf(host)
	return IsLoopback(host) || (g.master != "" && host == g.master) || slices.Contains(g.slaves, host)
}

// Classify decides how to handle a request for path from peerHost.
//
// Rules:
//   - slave: master and loopback are served locally as trusted proxies,
//     everyone else is rejected
//   - master: slaves are served locally; other peers are forwarded unless
//     the path is protected or maintenance mode is on
//   - standalone: everything is local
func (g *Guard) Classify(peerHost, path string) Decision {
	local := IsLoopback(peerHost)

	switch g.role {
	case RoleSlave:
		if !g.Accepts(peerHost) {
			return Decision{Action: ActionReject}
		}
		return Decision{Action: ActionLocal, TrustedProxy: true}

	case RoleMaster:
		fromSlave := slices.Contains(g.slaves, peerHost)
		if fromSlave || g.maintenance || isProtected(path) {
			return Decision{Action: ActionLocal, TrustedProxy: local, FromSlave: fromSlave}
		}
		return Decision{Action: ActionForward}
	}

	return Decision{Action: ActionLocal, TrustedProxy: local}
}

func isProtected(path string) bool {
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether host is a loopback address or "localhost".
func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// PeerHost returns the host part of a request's remote address.
func PeerHost(r *http.Request) string {
	return hostOf(r.RemoteAddr)
}

// hostOf strips an optional port and IPv6 brackets.
func hostOf(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// ClientIP resolves the originating client address: the last
// X-Forwarded-For entry when the peer is a trusted proxy, the peer otherwise.
// Only the last entry was written by the proxy; anything before it came from
// the client.
func ClientIP(r *http.Request) string {
	if d, ok := DecisionFrom(r.Context()); ok && d.TrustedProxy {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			entries := strings.Split(xff[len(xff)-1], ",")
			if last := strings.TrimSpace(entries[len(entries)-1]); last != "" {
				return last
			}
		}
	}
	return PeerHost(r)
}

type decisionKey struct{}

// WithDecision returns a context carrying d.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFrom returns the Guard decision stored in ctx.
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}
