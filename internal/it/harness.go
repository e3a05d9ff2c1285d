// Package it holds the in-process integration harness: a small cluster
// of exchange nodes on loopback listeners, cross-wired with each other's
// addresses and verification keys the way the module-admission system
// would do it.
package it

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"trustclock/internal/exchange"
	"trustclock/internal/trust"
)

// Node is one cluster member.
type Node struct {
	*exchange.Node
	Addr string
	lis  net.Listener
}

// Cluster is a set of running nodes.
type Cluster struct {
	Nodes []*Node
}

// StartCluster starts size nodes on ephemeral loopback ports, registers
// every node's identity and address with every other node, and serves
// them. The background fan-out loop is disabled; tests drive FanOut
// explicitly for determinism.
func StartCluster(size int) (*Cluster, error) {
	c := &Cluster{}

	for i := 0; i < size; i++ {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		signer, err := trust.NewEd25519Signer(priv)
		if err != nil {
			return nil, err
		}

		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			c.Stop()
			return nil, fmt.Errorf("listen: %w", err)
		}

		node, err := exchange.NewNode(lis.Addr().String(), signer,
			exchange.WithLogger(zerolog.Nop()),
			exchange.WithFanOutInterval(0),
		)
		if err != nil {
			lis.Close()
			c.Stop()
			return nil, err
		}

		c.Nodes = append(c.Nodes, &Node{Node: node, Addr: lis.Addr().String(), lis: lis})
	}

	// Cross-wire addresses and keys.
	for _, a := range c.Nodes {
		for _, b := range c.Nodes {
			if a == b {
				continue
			}
			a.AddPeer(b.ID(), b.Addr)
			if err := a.Register(b.ID(), b.Verifier()); err != nil {
				c.Stop()
				return nil, err
			}
		}
	}

	for _, n := range c.Nodes {
		go func(n *Node) {
			// Serve returns on Stop; errors after that are expected.
			_ = n.Serve(n.lis)
		}(n)
	}

	return c, nil
}

// Stop shuts every node down.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		n.Node.Stop()
	}
}
