// internal/p2p/node.go

// Package p2p replicates room documents between authority nodes over a
// libp2p gossipsub topic, with a stream protocol for catching up on start.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/proto"
)

const (
	mdnsTag        = "tuneroom"
	connectTimeout = 10 * time.Second
)

func init() {
	// dial failures and backoff errors go to stderr by default
	_ = logging.SetLogLevel("swarm2", "error")
	_ = logging.SetLogLevel("pubsub", "warn")
	_ = logging.SetLogLevel("mdns", "warn")
}

// Config describes the local host.
type Config struct {
	ListenPort int
	KeyFile    string // empty = ephemeral identity
	Topic      string
	Bootstrap  []string
	MDNS       bool
}

type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logrus.Entry
}

type mdnsNotifee struct {
	h   host.Host
	log *logrus.Entry
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		n.log.WithError(err).WithField("peer", pi.ID.String()).Debug("mdns connect failed")
	}
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string, log *logrus.Entry) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.WithError(err).WithField("file", keyFile).Warn("corrupt identity key, generating a new one")
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New starts the host, joins the gossip topic and dials the bootstrap peers.
// Bootstrap failures are logged, not fatal.
func New(ctx context.Context, cfg Config) (*Node, error) {
	log := logrus.WithField("component", "p2p")
	if cfg.Topic == "" {
		cfg.Topic = proto.RoomsTopic
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
	}
	if cfg.KeyFile != "" {
		priv, isNew, err := loadOrCreateKey(cfg.KeyFile, log)
		if err != nil {
			return nil, err
		}
		if isNew {
			log.WithField("file", cfg.KeyFile).Info("generated new identity key")
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	if cfg.MDNS {
		md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h, log: log})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	n := &Node{Host: h, ps: ps, topic: topic, sub: sub, log: log.WithField("peer", h.ID().String())}
	for _, raw := range cfg.Bootstrap {
		if _, err := n.Connect(ctx, raw); err != nil {
			n.log.WithError(err).WithField("addr", raw).Warn("bootstrap peer unreachable")
		}
	}
	return n, nil
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// Addrs returns dialable multiaddrs including the /p2p/<id> suffix.
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()}
	full, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(full))
	for _, a := range full {
		out = append(out, a.String())
	}
	return out
}

// Connect dials a "/ip4/.../tcp/.../p2p/<id>" address.
func (n *Node) Connect(ctx context.Context, addr string) (peer.ID, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", addr, err)
	}
	if info.ID == n.Host.ID() {
		return "", errors.New("refusing to dial self")
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := n.Host.Connect(cctx, *info); err != nil {
		return "", err
	}
	n.log.WithField("remote", info.ID.String()).Info("connected")
	return info.ID, nil
}

// Peers lists currently connected peer ids.
func (n *Node) Peers() []peer.ID {
	return n.Host.Network().Peers()
}

// Publish sends raw bytes on the room topic.
func (n *Node) Publish(ctx context.Context, b []byte) error {
	return n.topic.Publish(ctx, b)
}

// Next blocks for the next message from another peer.
func (n *Node) Next(ctx context.Context) ([]byte, error) {
	for {
		m, err := n.sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if m.ReceivedFrom == n.Host.ID() {
			continue
		}
		return m.Data, nil
	}
}

func (n *Node) Close() error {
	n.sub.Cancel()
	_ = n.topic.Close()
	return n.Host.Close()
}
