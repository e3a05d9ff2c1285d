package exchange

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"trustclock/internal/envelope"
	"trustclock/internal/ordering"
	"trustclock/internal/trust"
	"trustclock/internal/wire"
)

func init() {
	encoding.RegisterCodec(wire.Codec{})
}

// ServiceName is the grpc service the exchange exposes.
const ServiceName = "trustclock.Exchange"

const deliverMethod = "/" + ServiceName + "/Deliver"

// reasonDigestMismatch rejects a message whose payload does not hash to
// the digest its envelope vouches for. This is a transport-level check,
// before the envelope ever reaches the trust anchor.
const reasonDigestMismatch = "payload_digest_mismatch"

// ExchangeServer is the server API for the Exchange service.
type ExchangeServer interface {
	// Deliver ingests one bundle of timestamped messages from a peer.
	Deliver(ctx context.Context, req *wire.DeliverRequest) (*wire.DeliverResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustclock/exchange",
}

// RegisterExchangeServer registers the exchange service with a grpc server.
func RegisterExchangeServer(s *grpc.Server, srv ExchangeServer) {
	s.RegisterService(&serviceDesc, srv)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExchangeServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExchangeServer).Deliver(ctx, req.(*wire.DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Inbox buffers verified inbound messages until the caller polls them.
type Inbox struct {
	mu     sync.Mutex
	queues map[envelope.ProcessID][]*wire.Message
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{queues: make(map[envelope.ProcessID][]*wire.Message)}
}

func (i *Inbox) push(sender envelope.ProcessID, m *wire.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.queues[sender] = append(i.queues[sender], m)
}

// Poll drains the inbox, returning accepted messages grouped by sender.
func (i *Inbox) Poll() map[envelope.ProcessID][]*wire.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.queues
	i.queues = make(map[envelope.ProcessID][]*wire.Message)
	return out
}

// Server receives bundles from peers: each envelope is verified and
// merged through the ordering service, accepted messages land in the
// inbox, rejections are reported back per envelope.
type Server struct {
	svc   *ordering.Service
	inbox *Inbox
	log   zerolog.Logger
}

// NewServer creates the exchange server around an ordering service.
func NewServer(svc *ordering.Service, inbox *Inbox, log zerolog.Logger) *Server {
	return &Server{svc: svc, inbox: inbox, log: log}
}

// Deliver ingests one bundle. Each message is judged on its own: a
// rejected envelope never blocks the rest of the bundle, and the response
// names every rejection with its error kind so the sender can apply
// policy.
func (s *Server) Deliver(ctx context.Context, req *wire.DeliverRequest) (*wire.DeliverResponse, error) {
	resp := &wire.DeliverResponse{}

	for _, m := range req.Messages {
		if m.Envelope == nil {
			continue
		}
		key := m.Envelope.Key()

		if envelope.DigestOf(m.Payload) != m.Envelope.PayloadDigest {
			s.log.Warn().Stringer("event", key).Str("from", string(req.Sender)).
				Msg("payload does not match signed digest")
			resp.Rejections = append(resp.Rejections, &wire.Rejection{
				Producer: key.Producer,
				Counter:  key.Counter,
				Reason:   reasonDigestMismatch,
			})
			continue
		}

		if err := s.svc.RecordRemote(m.Envelope); err != nil {
			s.log.Warn().Err(err).Stringer("event", key).Str("from", string(req.Sender)).
				Msg("envelope rejected")
			resp.Rejections = append(resp.Rejections, &wire.Rejection{
				Producer: key.Producer,
				Counter:  key.Counter,
				Reason:   trust.Reason(err),
			})
			continue
		}

		s.inbox.push(req.Sender, m)
		resp.Accepted++
	}

	s.log.Debug().Str("from", string(req.Sender)).
		Uint64("accepted", resp.Accepted).Int("rejected", len(resp.Rejections)).
		Msg("bundle delivered")
	return resp, nil
}

// Deliver sends one bundle to a peer over a cached connection.
func (cm *ClientManager) Deliver(ctx context.Context, addr string, req *wire.DeliverRequest) (*wire.DeliverResponse, error) {
	conn, err := cm.conn(addr)
	if err != nil {
		return nil, err
	}
	resp := &wire.DeliverResponse{}
	if err := conn.Invoke(ctx, deliverMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
