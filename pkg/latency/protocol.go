package latency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/speedtest/pkg/latency/spec"
	"github.com/m-lab/speedtest/pkg/model"
)

var (
	// ErrProbeTimeout is returned when no PONG arrives in time.
	ErrProbeTimeout = errors.New("probe timed out")
	// ErrUnexpectedReply is returned when the server answers a PING with
	// something other than a PONG.
	ErrUnexpectedReply = errors.New("unexpected reply")
	// ErrConnectionClosed is returned when the connection is gone.
	ErrConnectionClosed = errors.New("connection closed")
)

// Identification is what a server announces right after connecting.
// Every field is optional.
type Identification struct {
	Version      string
	ExternalIP   string
	Capabilities []string
}

// Protocol is the client side of the line-based latency protocol over a
// WebSocket connection.
//
// A single receiver goroutine owns all reads. Timeouts are enforced by
// selecting on the message channel rather than with read deadlines, since
// a timed out read leaves a websocket.Conn unusable.
type Protocol struct {
	conn     *websocket.Conn
	messages chan string
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// New returns a new Protocol over conn and starts its receiver.
func New(conn *websocket.Conn) *Protocol {
	conn.SetReadLimit(spec.MaxMessageSize)
	p := &Protocol{
		conn:     conn,
		messages: make(chan string, 16),
		done:     make(chan struct{}),
	}
	go p.receiver()
	return p
}

// receiver reads text messages until the connection fails or the
// Protocol is closed. The messages channel is closed on exit.
func (p *Protocol) receiver() {
	defer close(p.messages)
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			p.errMu.Lock()
			p.err = err
			p.errMu.Unlock()
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case p.messages <- strings.TrimSpace(string(data)):
		case <-p.done:
			return
		}
	}
}

func (p *Protocol) readErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, p.err)
}

// Close sends a close frame (best effort) and closes the connection. It is
// safe to call more than once.
func (p *Protocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// tag returns the first word of a message.
func tag(msg string) (string, string) {
	t, rest, _ := strings.Cut(msg, " ")
	return strings.ToUpper(t), strings.TrimSpace(rest)
}

func (id *Identification) parse(msg string) bool {
	t, rest := tag(msg)
	switch t {
	case spec.TagHello:
		id.Version = rest
	case spec.TagYourIP:
		id.ExternalIP = rest
	case spec.TagCapabilities:
		id.Capabilities = strings.Fields(rest)
	default:
		return false
	}
	return true
}

// Handshake reads identification messages for at most window, waiting at
// most perMessage for each one. It returns what has been collected so far
// when the window expires, a message times out or the server has sent all
// the identification messages. Missing messages are not an error.
func (p *Protocol) Handshake(ctx context.Context, window, perMessage time.Duration) Identification {
	id := Identification{Capabilities: []string{}}
	windowTimer := time.NewTimer(window)
	defer windowTimer.Stop()

	for received := 0; received < spec.HandshakeMessages; {
		msgTimer := time.NewTimer(perMessage)
		select {
		case <-ctx.Done():
			msgTimer.Stop()
			return id
		case <-windowTimer.C:
			msgTimer.Stop()
			return id
		case <-msgTimer.C:
			return id
		case msg, ok := <-p.messages:
			msgTimer.Stop()
			if !ok {
				return id
			}
			if id.parse(msg) {
				received++
			}
		}
	}
	return id
}

// drain discards messages that are already queued, such as a PONG that
// arrived after its probe timed out.
func (p *Protocol) drain() {
	for {
		select {
		case _, ok := <-p.messages:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Ping sends one PING and waits up to timeout for the PONG. Identification
// messages arriving in between are skipped. The returned sample is never
// nil; on failure Success is false and Reason says why.
func (p *Protocol) Ping(ctx context.Context, timeout time.Duration) model.PingSample {
	p.drain()

	start := time.Now()
	sample := model.PingSample{ClientTimestamp: start.UnixMilli()}
	fail := func(reason model.FailureReason, err error) model.PingSample {
		sample.Reason = reason
		sample.Error = err.Error()
		return sample
	}

	msg := spec.TagPing + " " + strconv.FormatInt(sample.ClientTimestamp, 10)
	p.conn.SetWriteDeadline(start.Add(timeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fail(model.ReasonConnectError, fmt.Errorf("%w: %v", ErrConnectionClosed, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fail(model.ReasonCanceled, ctx.Err())
		case <-timer.C:
			return fail(model.ReasonProbeTimeout, ErrProbeTimeout)
		case reply, ok := <-p.messages:
			if !ok {
				return fail(model.ReasonConnectError, p.readErr())
			}
			t, rest := tag(reply)
			switch t {
			case spec.TagPong:
				sample.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
				// The server timestamp is informational only.
				if f := strings.Fields(rest); len(f) > 0 {
					if ts, err := strconv.ParseInt(f[0], 10, 64); err == nil {
						sample.ServerTimestamp = ts
					}
				}
				sample.Success = true
				return sample
			case spec.TagHello, spec.TagYourIP, spec.TagCapabilities:
				continue
			default:
				return fail(model.ReasonUnexpectedReply,
					fmt.Errorf("%w: %q", ErrUnexpectedReply, reply))
			}
		}
	}
}
