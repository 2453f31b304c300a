// Package transport implements the Transport capability:
// gossip broadcast plus direct peer-to-peer unicast. The concrete
// implementation here is backed by go-libp2p, adapted from the
// internal/node package and generalized from swap-specific message
// routing to the bare publish/send/onMessage surface the MuSig2 and
// SwapSig protocol handlers need.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/storage"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/pkg/logging"
)

// Transport is the capability interface MuSig2/SwapSig protocol handlers
// depend on.
type Transport interface {
	Publish(ctx context.Context, protocolID string, msg []byte) error
	Send(ctx context.Context, peerID string, msg []byte) error
	OnMessage(handler func(peerID string, msg []byte))
	PeerID() string
	IsConnected(peerID string) bool
}

const maxFrameSize = 1 << 20 // 1 MiB, generous relative to the 64 KiB ingress ceiling

// LibP2PTransport is the default Transport implementation.
type LibP2PTransport struct {
	host  host.Host
	ps    *pubsub.PubSub
	log   *logging.Logger
	peers *storage.Storage

	mu      sync.RWMutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription
	handler func(peerID string, msg []byte)

	directProtocol protocol.ID

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a LibP2PTransport listening on listenAddrs, using
// directProtocolSuffix (e.g. "musig2" or "swapsig") to namespace its
// direct-stream protocol id away from other transports sharing the same
// host. peers, if non-nil, receives a record of every peer this host
// connects to, independent of libp2p's own in-memory peerstore, so a
// restarted node can tell which peers it has dealt with before.
func New(ctx context.Context, listenAddrs []string, directProtocolSuffix string, peers *storage.Storage) (*LibP2PTransport, error) {
	ctx, cancel := context.WithCancel(ctx)

	opts := []libp2p.Option{
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	}
	for _, a := range listenAddrs {
		opts = append(opts, libp2p.ListenAddrStrings(a))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithPeerExchange(true),
		pubsub.WithFloodPublish(true),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}

	t := &LibP2PTransport{
		host:           h,
		ps:             ps,
		log:            logging.GetDefault().Component("transport"),
		peers:          peers,
		topics:         make(map[string]*pubsub.Topic),
		subs:           make(map[string]*pubsub.Subscription),
		directProtocol: protocol.ID("/lotus/" + directProtocolSuffix + "/direct/1.0.0"),
		ctx:            ctx,
		cancel:         cancel,
	}
	h.SetStreamHandler(t.directProtocol, t.handleStream)
	if peers != nil {
		h.Network().Notify(&network.NotifyBundle{
			ConnectedF:    t.recordConnected,
			DisconnectedF: t.recordDisconnected,
		})
	}
	return t, nil
}

// recordConnected upserts the remote side of conn into the known-peers
// table and bumps its connection count, fired on every libp2p connection
// establishment (including reconnects), not just the first one.
func (t *LibP2PTransport) recordConnected(_ network.Network, conn network.Conn) {
	peerID := conn.RemotePeer().String()
	now := time.Now()

	if existing, err := t.peers.GetPeer(peerID); err == nil && existing != nil {
		if err := t.peers.UpdatePeerConnected(peerID); err != nil {
			t.log.Warn("failed to update peer connection", "peer", peerID, "error", err)
		}
		return
	}

	record := &storage.PeerRecord{
		PeerID:          peerID,
		Addresses:       []string{conn.RemoteMultiaddr().String()},
		FirstSeen:       now,
		LastSeen:        now,
		LastConnected:   now,
		ConnectionCount: 1,
	}
	if err := t.peers.SavePeer(record); err != nil {
		t.log.Warn("failed to save peer", "peer", peerID, "error", err)
	}
}

// recordDisconnected refreshes last_seen so ListRecentPeers reflects when
// this peer was last reachable, not just when it was first discovered.
func (t *LibP2PTransport) recordDisconnected(_ network.Network, conn network.Conn) {
	peerID := conn.RemotePeer().String()
	if err := t.peers.UpdatePeerSeen(peerID); err != nil {
		t.log.Warn("failed to update peer seen", "peer", peerID, "error", err)
	}
}

// KnownPeers returns the peers this transport has connected to, ordered by
// most recently seen, for seeding a reconnect/bootstrap list across
// restarts. It returns an empty slice if no peer store was configured.
func (t *LibP2PTransport) KnownPeers(limit int) ([]*storage.PeerRecord, error) {
	if t.peers == nil {
		return nil, nil
	}
	return t.peers.ListPeers(limit)
}

// Close tears down the pubsub subscriptions and the libp2p host.
func (t *LibP2PTransport) Close() error {
	t.cancel()
	t.host.RemoveStreamHandler(t.directProtocol)
	return t.host.Close()
}

func (t *LibP2PTransport) PeerID() string {
	return t.host.ID().String()
}

func (t *LibP2PTransport) IsConnected(peerID string) bool {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return false
	}
	return t.host.Network().Connectedness(pid) == network.Connected
}

func (t *LibP2PTransport) topicFor(protocolID string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if topic, ok := t.topics[protocolID]; ok {
		return topic, nil
	}
	topic, err := t.ps.Join(protocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: join topic %s: %w", protocolID, err)
	}
	t.topics[protocolID] = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe topic %s: %w", protocolID, err)
	}
	t.subs[protocolID] = sub
	go t.readLoop(sub)

	return topic, nil
}

func (t *LibP2PTransport) readLoop(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(t.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		t.dispatch(msg.ReceivedFrom.String(), msg.Data)
	}
}

func (t *LibP2PTransport) dispatch(peerID string, data []byte) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h != nil {
		h(peerID, data)
	}
}

// Publish broadcasts msg on the gossipsub topic named by protocolID,
// joining it on first use.
func (t *LibP2PTransport) Publish(ctx context.Context, protocolID string, msg []byte) error {
	topic, err := t.topicFor(protocolID)
	if err != nil {
		return err
	}
	if err := topic.Publish(ctx, msg); err != nil {
		return fmt.Errorf("transport: publish on %s: %w", protocolID, err)
	}
	return nil
}

// Send delivers msg directly to peerID over a length-prefixed stream.
func (t *LibP2PTransport) Send(ctx context.Context, peerID string, msg []byte) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("transport: decode peer id %s: %w", peerID, err)
	}

	s, err := t.host.NewStream(ctx, pid, t.directProtocol)
	if err != nil {
		return fmt.Errorf("transport: open stream to %s: %w", peerID, err)
	}
	defer s.Close()

	s.SetWriteDeadline(time.Now().Add(15 * time.Second))
	if err := writeLengthPrefixed(s, msg); err != nil {
		return fmt.Errorf("transport: write to %s: %w", peerID, err)
	}
	return nil
}

// OnMessage registers the single handler invoked for every inbound
// message, whether received via gossipsub or a direct stream. The caller
// is expected to demultiplex by inspecting the envelope.
func (t *LibP2PTransport) OnMessage(handler func(peerID string, msg []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *LibP2PTransport) handleStream(s network.Stream) {
	defer s.Close()
	remotePeer := s.Conn().RemotePeer()

	s.SetReadDeadline(time.Now().Add(60 * time.Second))
	reader := bufio.NewReader(s)
	data, err := readLengthPrefixed(reader)
	if err != nil {
		t.log.Warn("failed to read direct message", "peer", remotePeer, "error", err)
		return
	}
	t.dispatch(remotePeer.String(), data)
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame size %d exceeds maximum %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
