package cluster

import (
	"log"
	"net"
)

// GuardListener closes connections the Guard doesn't accept as soon as they
// are accepted, before any byte is exchanged.
type GuardListener struct {
	net.Listener
	guard *Guard
	log   *log.Logger
}

// NewGuardListener wraps l. On a node that isn't a slave it accepts every
// connection.
func NewGuardListener(l net.Listener, guard *Guard, logger *log.Logger) *GuardListener {
	if logger == nil {
		logger = log.Default()
	}
	return &GuardListener{Listener: l, guard: guard, log: logger}
}

// Accept returns the next accepted connection.
func (l *GuardListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		host := hostOf(conn.RemoteAddr().String())
		if l.guard.Accepts(host) {
			return conn, nil
		}
		l.log.Printf("dropping connection from %s: not master or loopback", host)
		_ = conn.Close()
	}
}
