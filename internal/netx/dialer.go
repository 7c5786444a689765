package netx

import (
	"context"
	"net"
	"time"
)

// Dialer dials TCP connections and wraps them in a Conn attached to
// Counter.
type Dialer struct {
	// Timeout bounds connection establishment. Zero means no timeout.
	Timeout time.Duration
	// Counter receives the bytes of every connection dialed. It may be nil.
	Counter *Counter
}

// DialContext has the signature expected by http.Transport.DialContext and
// websocket.Dialer.NetDialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return FromConn(conn, d.Counter), nil
}
