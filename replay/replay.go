// Package replay computes JA4 fingerprints offline from pcap and pcapng
// captures. TCP streams are reassembled and fed through the same Capture the
// live server uses, so both produce identical fingerprints.
package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/LeeBrotherston/ja4beacon"
	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"go.uber.org/zap"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Result is one ClientHello found in the capture.
type Result struct {
	Src         string                 `json:"src"`
	Dst         string                 `json:"dst"`
	JA4         string                 `json:"ja4"`
	ClientHello *ja4beacon.ClientHello `json:"client_hello"`
}

type Options struct {
	// Port limits replay to streams towards this server port, 0 means all
	Port   uint16
	Logger *zap.Logger
}

type Stats struct {
	Packets int
	Streams int
	Hellos  int
}

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Read walks every packet in r and calls emit for each parsed ClientHello,
// in the order the hellos complete.
func Read(r io.Reader, opts Options, emit func(Result)) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var stats Stats
	source, err := openSource(r)
	if err != nil {
		return stats, err
	}

	factory := &helloStreamFactory{port: opts.Port, emit: emit, stats: &stats, logger: logger}
	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))
	defragger := ip4defrag.NewIPv4Defragmenter()
	packets := gopacket.NewPacketSource(source, source.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		netFlow, tcp, ok := tcpSegment(packet, defragger, logger)
		if !ok {
			continue
		}
		assembler.AssembleWithTimestamp(netFlow, tcp, packet.Metadata().Timestamp)
	}

	assembler.FlushAll()
	return stats, nil
}

// tcpSegment pulls the TCP layer out of packet, reassembling IPv4
// fragments on the way.
func tcpSegment(packet gopacket.Packet, defragger *ip4defrag.IPv4Defragmenter, logger *zap.Logger) (gopacket.Flow, *layers.TCP, bool) {
	if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		whole, err := defragger.DefragIPv4(ip4)
		if err != nil {
			logger.Debug("IPv4 defrag error", zap.Error(err))
			return gopacket.Flow{}, nil, false
		}
		if whole == nil {
			// waiting for more fragments
			return gopacket.Flow{}, nil, false
		}
		if whole != ip4 {
			if whole.Protocol != layers.IPProtocolTCP {
				return gopacket.Flow{}, nil, false
			}
			tcp := &layers.TCP{}
			if err := tcp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
				return gopacket.Flow{}, nil, false
			}
			return whole.NetworkFlow(), tcp, true
		}
	}

	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || packet.NetworkLayer() == nil {
		return gopacket.Flow{}, nil, false
	}
	return packet.NetworkLayer().NetworkFlow(), tcp, true
}

type helloStreamFactory struct {
	port   uint16
	emit   func(Result)
	stats  *Stats
	logger *zap.Logger
}

func (f *helloStreamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	dstPort := binary.BigEndian.Uint16(tcpFlow.Dst().Raw())
	if f.port != 0 && dstPort != f.port {
		return ignoredStream{}
	}
	f.stats.Streams++

	srcPort := binary.BigEndian.Uint16(tcpFlow.Src().Raw())
	return &helloStream{
		src:     net.JoinHostPort(netFlow.Src().String(), strconv.Itoa(int(srcPort))),
		dst:     net.JoinHostPort(netFlow.Dst().String(), strconv.Itoa(int(dstPort))),
		capture: ja4beacon.NewCapture(nil, zap.NewNop()),
		factory: f,
	}
}

type ignoredStream struct{}

func (ignoredStream) Reassembled([]tcpassembly.Reassembly) {}
func (ignoredStream) ReassemblyComplete()                  {}

// helloStream feeds one direction of a TCP connection into a Capture until
// it either yields a ClientHello or gives up.
type helloStream struct {
	src, dst string
	capture  *ja4beacon.Capture
	factory  *helloStreamFactory
	fed      bool
}

func (s *helloStream) Reassembled(reassembly []tcpassembly.Reassembly) {
	for _, r := range reassembly {
		if s.capture.Done() {
			return
		}
		// a gap inside the hello cannot be parsed around; a stream we joined
		// late is still worth a try while nothing has been fed
		if r.Skip > 0 || (r.Skip < 0 && s.fed) {
			s.factory.logger.Debug("gap in stream, giving up", zap.String("src", s.src), zap.String("dst", s.dst))
			s.capture.Release()
			return
		}
		if len(r.Bytes) == 0 {
			continue
		}
		s.fed = true

		err := s.capture.Feed(r.Bytes)
		switch {
		case err == nil:
			ja4, _ := s.capture.State().JA4()
			s.factory.stats.Hellos++
			s.factory.emit(Result{
				Src:         s.src,
				Dst:         s.dst,
				JA4:         ja4,
				ClientHello: s.capture.State().ClientHello(),
			})
			return
		case errors.Is(err, ja4beacon.ErrNeedMoreData):
		default:
			s.factory.logger.Debug("no ClientHello in stream",
				zap.String("src", s.src), zap.String("dst", s.dst), zap.Error(err))
			return
		}
	}
}

func (s *helloStream) ReassemblyComplete() {
	s.capture.Release()
}
