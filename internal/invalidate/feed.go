package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// FeedPath is where the websocket feed is mounted.
const FeedPath = "/signal"

// Reply acknowledges one feed message.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// FeedHandler accepts signals over a websocket. Each text message is one
// JSON signal; each gets a Reply.
type FeedHandler struct {
	bus     *Bus
	allow   func(host string) bool
	log     *log.Logger
	verbose bool

	upgrader websocket.Upgrader
}

// NewFeedHandler creates a feed publishing to bus. allow decides which peer
// hosts may connect; nil allows every peer.
func NewFeedHandler(bus *Bus, allow func(host string) bool, verbose bool, logger *log.Logger) *FeedHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &FeedHandler{
		bus:     bus,
		allow:   allow,
		log:     logger,
		verbose: verbose,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			// producers are processes, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *FeedHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if h.allow != nil && !h.allow(host) {
		h.log.Printf("signal feed: rejected peer %s", host)
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		reply := Reply{OK: true}
		sig, err := Decode(msg)
		if err == nil {
			err = h.bus.Publish(r.Context(), sig)
		}
		if err != nil {
			reply = Reply{Error: err.Error()}
			if h.verbose {
				h.log.Printf("signal feed: %v", err)
			}
		}

		b, _ := json.Marshal(reply)
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

// Send delivers signals to the feed listening at addr (host:port) and
// returns the first rejection.
func Send(ctx context.Context, addr string, signals ...Signal) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: FeedPath}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial signal feed: %w", err)
	}
	defer conn.Close()

	for _, sig := range signals {
		b, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return fmt.Errorf("send signal: %w", err)
		}
		var reply Reply
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		if !reply.OK {
			return fmt.Errorf("signal %s rejected: %s", sig, reply.Error)
		}
	}
	return nil
}
