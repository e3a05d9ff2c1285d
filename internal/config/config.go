package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Peer represents a peer node: a process identity and its address.
type Peer struct {
	ID   string
	Addr string
}

// PeerKey is a verification key binding delivered out of band by the
// module-admission system: which scheme and which canonical key bytes
// (base58) belong to a peer identity.
type PeerKey struct {
	ID     string
	Scheme string
	Key    string // base58 canonical key bytes
}

// Config holds the node configuration, populated from the environment.
type Config struct {
	ListenAddr    string        `env:"TRUSTCLOCK_LISTEN" envDefault:"127.0.0.1:7601"`
	Scheme        string        `env:"TRUSTCLOCK_SCHEME" envDefault:"ed25519"`
	PrivateKeyHex string        `env:"TRUSTCLOCK_PRIVATE_KEY"`
	PeersRaw      string        `env:"TRUSTCLOCK_PEERS"`
	PeerKeysRaw   string        `env:"TRUSTCLOCK_PEER_KEYS"`
	FanOutEvery   time.Duration `env:"TRUSTCLOCK_FANOUT_EVERY" envDefault:"500ms"`
	Debug         bool          `env:"TRUSTCLOCK_DEBUG" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// ParsePeerKeys parses a comma-separated list of key bindings in the
// format "id1=key1,id2=scheme:key2". A binding without an explicit
// scheme uses defaultScheme.
func ParsePeerKeys(keysStr, defaultScheme string) ([]PeerKey, error) {
	if keysStr == "" {
		return []PeerKey{}, nil
	}

	parts := strings.Split(keysStr, ",")
	keys := make([]PeerKey, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer key format: %s (expected id=key or id=scheme:key)", part)
		}

		id := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if id == "" || value == "" {
			return nil, fmt.Errorf("peer ID and key cannot be empty: %s", part)
		}

		scheme := defaultScheme
		if i := strings.IndexByte(value, ':'); i >= 0 {
			scheme = value[:i]
			value = value[i+1:]
			if scheme == "" || value == "" {
				return nil, fmt.Errorf("invalid peer key format: %s", part)
			}
		}

		keys = append(keys, PeerKey{ID: id, Scheme: scheme, Key: value})
	}

	return keys, nil
}
