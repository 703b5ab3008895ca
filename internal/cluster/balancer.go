package cluster

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
)

// Balancer forwards requests to the slaves in strict round-robin order. A
// failed forward answers 500 and is not retried on another slave.
type Balancer struct {
	targets []*url.URL
	proxies []*httputil.ReverseProxy
	verbose bool
	log     *log.Logger

	mu   sync.Mutex
	next int
}

// NewBalancer creates a balancer over slaves. Entries without a port use
// defaultPort; a zero defaultPort leaves them on port 80.
//
// Example:
//
//	b, err := NewBalancer([]string{"10.0.0.2", "10.0.0.3:8081"}, 8080, false, nil)
//	// 10.0.0.2 is reached at http://10.0.0.2:8080
func NewBalancer(slaves []string, defaultPort int, verbose bool, logger *log.Logger) (*Balancer, error) {
	if len(slaves) == 0 {
		return nil, fmt.Errorf("balancer needs at least one slave")
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Balancer{verbose: verbose, log: logger}
	for _, s := range slaves {
		target, err := slaveURL(s, defaultPort)
		if err != nil {
			return nil, err
		}
		b.targets = append(b.targets, target)
		b.proxies = append(b.proxies, b.newProxy(target))
	}
	return b, nil
}

func slaveURL(slave string, defaultPort int) (*url.URL, error) {
	host := slave
	if _, _, err := net.SplitHostPort(slave); err != nil && defaultPort > 0 {
		host = net.JoinHostPort(hostOf(slave), strconv.Itoa(defaultPort))
	}
	u, err := url.Parse("http://" + host)
	if err != nil {
		return nil, fmt.Errorf("slave %q: %w", slave, err)
	}
	return u, nil
}

func (b *Balancer) newProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.Out.Header.Set("X-Forwarded-For", PeerHost(pr.In))
		},
		ErrorLog: b.log,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			b.log.Printf("forward %s to %s failed: %v", r.URL.Path, target.Host, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		},
	}
}

// Next returns the index of the slave that receives the next request.
func (b *Balancer) Next() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.next
	b.next = (b.next + 1) % len(b.targets)
	return i
}

// Targets returns the slave base URLs in rotation order.
func (b *Balancer) Targets() []string {
	out := make([]string, len(b.targets))
	for i, t := range b.targets {
		out[i] = t.String()
	}
	return out
}

// ServeHTTP relays the request to the next slave and streams the response
// back unchanged.
func (b *Balancer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i := b.Next()
	if b.verbose {
		b.log.Printf("forwarding %s %s to %s", r.Method, r.URL.RequestURI(), b.targets[i].Host)
	}
	b.proxies[i].ServeHTTP(w, r)
}
