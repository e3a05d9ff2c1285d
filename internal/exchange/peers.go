package exchange

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trustclock/internal/envelope"
	"trustclock/internal/wire"
)

// Peers is the static peer registry: process identity to address. The
// verification key behind an identity lives in the trust registry, not
// here. Membership protocols are out of scope; entries are added at
// assembly time.
type Peers struct {
	mu   sync.RWMutex
	byID map[envelope.ProcessID]string
}

// NewPeers creates an empty registry.
func NewPeers() *Peers {
	return &Peers{byID: make(map[envelope.ProcessID]string)}
}

// Add records a peer's address.
func (p *Peers) Add(id envelope.ProcessID, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[id] = addr
}

// Addr returns the address for a peer id.
func (p *Peers) Addr(id envelope.ProcessID) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	addr, ok := p.byID[id]
	return addr, ok
}

// IDs returns all known peer ids.
func (p *Peers) IDs() []envelope.ProcessID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]envelope.ProcessID, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	return ids
}

// ClientManager manages grpc connections to peer nodes, one cached
// connection per address.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{conns: make(map[string]*grpc.ClientConn)}
}

func (cm *ClientManager) conn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	cm.conns[addr] = conn
	return conn, nil
}

// Close closes all cached connections.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, conn := range cm.conns {
		_ = conn.Close()
	}
	cm.conns = make(map[string]*grpc.ClientConn)
}
