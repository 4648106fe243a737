//go:build linux

package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

// rethEtherType is the reserved EtherType zenoh-pico's raw-Ethernet link
// tags its frames with, so a shared interface can be filtered down to just
// zenoh traffic without a BPF program.
const rethEtherType = layers.EthernetType(0x7A70) // "zp" mnemonic

// rethSnapLen bounds a captured frame; large enough for a full frame under
// jumbo MTU.
const (
	rethSnapLen    = 9000
	rethReadTimeout = 500 * time.Millisecond
)

func init() {
	Register("reth", rethOpener{})
}

// rethOpener opens a raw-Ethernet link: `reth/<ifname>[?peer=aa:bb:cc:dd:ee:ff]`.
// Grounded on the teacher-pack's gravwell networkLog ingester's
// pcap.OpenLive capture loop, repurposed from packet capture to a
// send/receive link.
type rethOpener struct{}

func (rethOpener) Open(_ context.Context, loc Locator) (Link, error) {
	return newRethLink(loc)
}

func (rethOpener) Listen(_ context.Context, loc Locator) (Listener, error) {
	l, err := newRethLink(loc)
	if err != nil {
		return nil, err
	}
	return &rethListener{link: l}, nil
}

type rethLink struct {
	handle   *pcap.Handle
	iface    *net.Interface
	srcMAC   net.HardwareAddr
	peerMAC  net.HardwareAddr
	mu       sync.Mutex
	closed   bool
}

func newRethLink(loc Locator) (*rethLink, error) {
	iface, err := net.InterfaceByName(loc.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %s: %w", loc.Address, zerr.ErrLocatorInvalid)
	}
	handle, err := pcap.OpenLive(loc.Address, rethSnapLen, true, rethReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", loc.Address, err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("ether proto 0x%x", uint16(rethEtherType))); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set bpf filter on %s: %w", loc.Address, err)
	}
	peer, _ := net.ParseMAC(loc.Params["peer"]) // empty/invalid -> broadcast
	if peer == nil {
		peer = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	return &rethLink{handle: handle, iface: iface, srcMAC: iface.HardwareAddr, peerMAC: peer}, nil
}

func (l *rethLink) Capabilities() Capabilities {
	return Capabilities{Reliable: false, Flow: FlowDatagram, Multicast: false}
}

func (l *rethLink) MTU() int {
	if l.iface.MTU > 0 {
		return l.iface.MTU
	}
	return 1500
}

func (l *rethLink) Send(batch []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("send: %w", zerr.ErrClosed)
	}
	eth := layers.Ethernet{
		SrcMAC:       l.srcMAC,
		DstMAC:       l.peerMAC,
		EthernetType: rethEtherType,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(batch)); err != nil {
		return fmt.Errorf("serialize raw ethernet frame: %w", zerr.ErrTxFailed)
	}
	if err := l.handle.WritePacketData(buf.Bytes()); err != nil {
		return fmt.Errorf("write raw ethernet frame: %w", zerr.ErrTxFailed)
	}
	return nil
}

func (l *rethLink) Recv(buf []byte) (int, netip.AddrPort, error) {
	for {
		data, _, err := l.handle.ReadPacketData()
		if err != nil {
			return 0, netip.AddrPort{}, fmt.Errorf("read raw ethernet frame: %w", zerr.ErrRxFailed)
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		ethLayer := pkt.Layer(layers.LayerTypeEthernet)
		if ethLayer == nil {
			continue
		}
		eth, _ := ethLayer.(*layers.Ethernet)
		if eth == nil || eth.EthernetType != rethEtherType {
			continue
		}
		n := copy(buf, eth.Payload)
		return n, netip.AddrPort{}, nil
	}
}

func (l *rethLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.handle.Close()
	return nil
}

// rethListener yields the single raw-Ethernet link bound to the interface:
// like multicast, a shared-medium link has no per-peer accept handshake.
type rethListener struct {
	link     *rethLink
	mu       sync.Mutex
	accepted bool
}

func (l *rethListener) Accept(ctx context.Context) (Link, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accepted {
		<-ctx.Done()
		return nil, fmt.Errorf("accept reth: %w", ctx.Err())
	}
	l.accepted = true
	return l.link, nil
}

func (l *rethListener) Close() error {
	return l.link.Close()
}
