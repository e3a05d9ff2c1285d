// Command trustclockd runs one trusted-clock exchange node: it serves
// the exchange service on the configured address, fans the outbox out to
// the configured peers, and verifies everything it receives against the
// peer keys handed to it at startup.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"trustclock/internal/config"
	"trustclock/internal/envelope"
	"trustclock/internal/exchange"
	"trustclock/internal/trust"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trustclockd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	node, err := exchange.NewNode(cfg.ListenAddr, signer,
		exchange.WithLogger(log),
		exchange.WithMetricsRegistry(prometheus.DefaultRegisterer),
		exchange.WithFanOutInterval(cfg.FanOutEvery),
	)
	if err != nil {
		return err
	}

	if err := wirePeers(cfg, node); err != nil {
		return err
	}

	log.Info().Str("id", string(node.ID())).Str("scheme", cfg.Scheme).
		Str("key", base58.Encode(signer.Verifier().Bytes())).Msg("node identity")

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		node.Stop()
	}()

	return node.Start()
}

// buildSigner wraps the configured private key, or generates an
// ephemeral identity when none is given. Key custody belongs to an
// external key manager; this binary only holds what it was handed.
func buildSigner(cfg config.Config) (trust.Signer, error) {
	switch cfg.Scheme {
	case trust.SchemeEd25519:
		if cfg.PrivateKeyHex == "" {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			return trust.NewEd25519Signer(priv)
		}
		seed, err := hex.DecodeString(cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return trust.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))

	case trust.SchemeSecp256k1:
		if cfg.PrivateKeyHex == "" {
			priv, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			return trust.NewSecp256k1Signer(priv)
		}
		raw, err := hex.DecodeString(cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		return trust.NewSecp256k1Signer(secp256k1.PrivKeyFromBytes(raw))

	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", cfg.Scheme)
	}
}

// wirePeers loads peer addresses and key bindings into the node.
func wirePeers(cfg config.Config, node *exchange.Node) error {
	peers, err := config.ParsePeers(cfg.PeersRaw)
	if err != nil {
		return err
	}
	for _, p := range peers {
		node.AddPeer(envelope.ProcessID(p.ID), p.Addr)
	}

	keys, err := config.ParsePeerKeys(cfg.PeerKeysRaw, cfg.Scheme)
	if err != nil {
		return err
	}
	for _, pk := range keys {
		raw, err := base58.Decode(pk.Key)
		if err != nil {
			return fmt.Errorf("peer %s key: %w", pk.ID, err)
		}
		verifier, err := trust.NewVerifier(pk.Scheme, raw)
		if err != nil {
			return fmt.Errorf("peer %s key: %w", pk.ID, err)
		}
		if err := node.Register(envelope.ProcessID(pk.ID), verifier); err != nil {
			return fmt.Errorf("peer %s: %w", pk.ID, err)
		}
	}
	return nil
}
