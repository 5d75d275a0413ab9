package bridge

import (
	"log/slog"
	"sync/atomic"

	"github.com/dshills/agentpipe/internal/protocol"
	"github.com/dshills/agentpipe/internal/transport"
)

// HostVersion identifies this host build in the handshake.
const HostVersion = "0.1.0"

// SupportedVersions lists the protocol versions the host speaks, newest last.
var SupportedVersions = []int{1}

// negotiator runs the fire-and-forget version handshake. The hello goes out
// once per worker start; the worker's selection is recorded whenever (and
// whether) it arrives, and normal traffic never waits on it.
type negotiator struct {
	selected atomic.Int32
	logger   *slog.Logger
}

func newNegotiator(logger *slog.Logger) *negotiator {
	n := &negotiator{logger: logger}
	n.selected.Store(-1)
	return n
}

// hello sends the version declaration. A send failure is logged, not fatal;
// the worker side treats an absent handshake as version 1.
func (n *negotiator) hello(t *transport.Transport) {
	n.selected.Store(-1)
	req := protocol.NegotiateRequest{
		Type:              protocol.TypeNegotiate,
		SupportedVersions: SupportedVersions,
		HostVersion:       HostVersion,
	}
	if err := t.Send(protocol.TypeNegotiate, req); err != nil {
		n.logger.Warn("version handshake send failed", "error", err)
	}
}

// handle records the worker's selection from a negotiate response envelope.
func (n *negotiator) handle(env *protocol.Envelope) {
	var resp protocol.NegotiateResponse
	if err := env.DecodeInto(&resp); err != nil {
		n.logger.Warn("malformed negotiate response", "error", err)
		return
	}
	n.selected.Store(int32(resp.SelectedVersion))

	for _, v := range SupportedVersions {
		if v == resp.SelectedVersion {
			n.logger.Info("protocol version negotiated", "version", v)
			return
		}
	}
	n.logger.Warn("worker selected an unsupported protocol version",
		"selected", resp.SelectedVersion, "supported", SupportedVersions)
}

// Selected returns the negotiated version, or -1 before any response.
func (n *negotiator) Selected() int { return int(n.selected.Load()) }
