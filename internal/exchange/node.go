package exchange

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"trustclock/internal/envelope"
	"trustclock/internal/ordering"
	"trustclock/internal/trust"
)

// Node assembles one process: its ordering service, the exchange server
// for inbound bundles and the outbox loop for outbound ones.
type Node struct {
	id         envelope.ProcessID
	listenAddr string
	svc        *ordering.Service
	outbox     *Outbox
	inbox      *Inbox
	peers      *Peers
	clientMgr  *ClientManager
	grpcServer *grpc.Server
	log        zerolog.Logger

	fanOutEvery time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
	loopDone    chan struct{}
}

// NodeOption configures a Node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	log         zerolog.Logger
	registry    prometheus.Registerer
	fanOutEvery time.Duration
}

// WithLogger sets the node's logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) NodeOption {
	return func(o *nodeOptions) { o.log = log }
}

// WithMetricsRegistry enables envelope acceptance metrics on the given
// registerer.
func WithMetricsRegistry(reg prometheus.Registerer) NodeOption {
	return func(o *nodeOptions) { o.registry = reg }
}

// WithFanOutInterval sets how often the outbox is drained while the node
// runs. Zero disables the background loop; callers then fan out manually.
func WithFanOutInterval(d time.Duration) NodeOption {
	return func(o *nodeOptions) { o.fanOutEvery = d }
}

// NewNode creates a node for the identity behind signer, listening on
// listenAddr once started.
func NewNode(listenAddr string, signer trust.Signer, opts ...NodeOption) (*Node, error) {
	options := nodeOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&options)
	}

	var svcOpts []ordering.Option
	if options.registry != nil {
		svcOpts = append(svcOpts, ordering.WithMetrics(ordering.NewMetrics(options.registry)))
	}
	svc, err := ordering.NewService(signer, svcOpts...)
	if err != nil {
		return nil, err
	}

	log := options.log.With().Str("node", string(svc.ID())).Logger()

	n := &Node{
		id:          svc.ID(),
		listenAddr:  listenAddr,
		svc:         svc,
		outbox:      NewOutbox(svc, log),
		inbox:       NewInbox(),
		peers:       NewPeers(),
		clientMgr:   NewClientManager(),
		grpcServer:  grpc.NewServer(),
		log:         log,
		fanOutEvery: options.fanOutEvery,
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	// The server is built here, not in Serve, so Stop never races a
	// concurrent startup.
	RegisterExchangeServer(n.grpcServer, NewServer(svc, n.inbox, log))
	go n.fanOutLoop()
	return n, nil
}

// ID returns the node's process identity.
func (n *Node) ID() envelope.ProcessID { return n.id }

// Ordering returns the node's ordering service for queries.
func (n *Node) Ordering() *ordering.Service { return n.svc }

// Outbox returns the node's outbound queue.
func (n *Node) Outbox() *Outbox { return n.outbox }

// Inbox returns the node's inbound queue.
func (n *Node) Inbox() *Inbox { return n.inbox }

// Verifier returns the node's own verification capability for handing to
// peers.
func (n *Node) Verifier() trust.Verifier { return n.svc.Verifier() }

// AddPeer records a peer's address.
func (n *Node) AddPeer(id envelope.ProcessID, addr string) {
	n.peers.Add(id, addr)
}

// Register binds a remote producer's verification key.
func (n *Node) Register(producer envelope.ProcessID, verifier trust.Verifier) error {
	return n.svc.Register(producer, verifier)
}

// FanOut drains the outbox once, synchronously.
func (n *Node) FanOut(ctx context.Context) FanOutResult {
	return n.outbox.FanOut(ctx, n.peers, n.clientMgr)
}

// Start listens on the configured address and serves until Stop. Blocks.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}
	return n.Serve(lis)
}

// Serve runs the exchange service on an existing listener. Blocks until
// Stop or a serve error.
func (n *Node) Serve(lis net.Listener) error {
	n.log.Info().Str("addr", lis.Addr().String()).Msg("node started")
	if err := n.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (n *Node) fanOutLoop() {
	defer close(n.loopDone)
	if n.fanOutEvery <= 0 {
		return
	}
	ticker := time.NewTicker(n.fanOutEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			res := n.FanOut(context.Background())
			if res.Delivered > 0 || res.Rejected > 0 || res.Requeued > 0 {
				n.log.Debug().Int("delivered", res.Delivered).Int("rejected", res.Rejected).
					Int("requeued", res.Requeued).Msg("fan-out round")
			}
		case <-n.stopCh:
			return
		}
	}
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		<-n.loopDone
		n.log.Info().Msg("stopping node")
		n.grpcServer.GracefulStop()
		n.clientMgr.Close()
	})
}
