// Package packet implements the virtio-vsock packet codec: a fixed 44-byte
// little-endian header followed by an optional payload.
//
// Header layout:
//
//	u64 src_cid
//	u64 dst_cid
//	u32 src_port
//	u32 dst_port
//	u32 len
//	u16 type
//	u16 op
//	u32 flags
//	u32 buf_alloc
//	u32 fwd_cnt
package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the encoded size of the packet header in bytes.
	HeaderSize = 44

	// DataBufferSize is the size of a single buffer in the device queue. A
	// whole packet, header included, must fit into one buffer.
	DataBufferSize = 4096

	// QueueSize is the number of buffers in the device queue.
	QueueSize = 16

	// MaxPayloadSize is the largest payload that fits into a single packet.
	MaxPayloadSize = DataBufferSize - HeaderSize
)

// TypeStream is the only packet type in use; vsock datagrams are not
// supported.
const TypeStream = 1

// Well-known context IDs.
const (
	CIDHypervisor = 0
	CIDLocal      = 1
	CIDHost       = 2
)

// Op is a vsock connection operation code.
type Op uint16

const (
	OpInvalid Op = iota
	OpRequest
	OpResponse
	OpRst
	OpShutdown
	OpRw
	OpCreditUpdate
	OpCreditRequest
)

func (op Op) String() string {
	switch op {
	case OpInvalid:
		return "INVALID"
	case OpRequest:
		return "REQUEST"
	case OpResponse:
		return "RESPONSE"
	case OpRst:
		return "RST"
	case OpShutdown:
		return "SHUTDOWN"
	case OpRw:
		return "RW"
	case OpCreditUpdate:
		return "CREDIT_UPDATE"
	case OpCreditRequest:
		return "CREDIT_REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(op))
	}
}

// valid reports whether op is a known operation other than OpInvalid.
func (op Op) valid() bool {
	return op >= OpRequest && op <= OpCreditRequest
}

// Shutdown flag bits carried by OpShutdown packets.
const (
	FlagShutdownRcv  = 1
	FlagShutdownSend = 2
	FlagsAll         = FlagShutdownRcv | FlagShutdownSend
)

type header struct {
	srcCID   uint64
	dstCID   uint64
	srcPort  uint32
	dstPort  uint32
	len      uint32
	typ      uint16
	op       uint16
	flags    uint32
	bufAlloc uint32
	fwdCnt   uint32
}

// Packet is a single vsock packet: header plus payload. Control packets
// carry no payload; data packets (OpRw) carry up to MaxPayloadSize bytes.
type Packet struct {
	hdr     header
	payload []byte
}

// NewControl builds a payload-free packet with the given operation.
func NewControl(srcPort, dstPort uint32, op Op) (*Packet, error) {
	if !op.valid() || op == OpRw {
		return nil, fmt.Errorf("packet: op %s is not a control operation", op)
	}
	return &Packet{
		hdr: header{
			srcCID:  CIDLocal,
			dstCID:  CIDHost,
			srcPort: srcPort,
			dstPort: dstPort,
			typ:     TypeStream,
			op:      uint16(op),
		},
	}, nil
}

// NewData builds an OpRw packet carrying the given payload. The payload is
// copied so the caller may reuse its buffer.
func NewData(payload []byte, srcPort, dstPort uint32) (*Packet, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("packet: payload too large: %d > %d", len(payload), MaxPayloadSize)
	}
	return &Packet{
		hdr: header{
			srcCID:  CIDLocal,
			dstCID:  CIDHost,
			srcPort: srcPort,
			dstPort: dstPort,
			len:     uint32(len(payload)),
			typ:     TypeStream,
			op:      uint16(OpRw),
		},
		payload: append([]byte(nil), payload...),
	}, nil
}

func (p *Packet) Op() Op           { return Op(p.hdr.op) }
func (p *Packet) SrcPort() uint32  { return p.hdr.srcPort }
func (p *Packet) DstPort() uint32  { return p.hdr.dstPort }
func (p *Packet) Flags() uint32    { return p.hdr.flags }
func (p *Packet) BufAlloc() uint32 { return p.hdr.bufAlloc }
func (p *Packet) FwdCnt() uint32   { return p.hdr.fwdCnt }

// Payload returns the packet payload. The slice aliases the packet's own
// storage; callers must not hold it across a reuse of the packet.
func (p *Packet) Payload() []byte { return p.payload }

func (p *Packet) SetBufAlloc(v uint32) { p.hdr.bufAlloc = v }
func (p *Packet) SetFwdCnt(v uint32)   { p.hdr.fwdCnt = v }
func (p *Packet) SetFlags(v uint32)    { p.hdr.flags = v }

// Marshal encodes the packet into wire format.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(p.payload))
	binary.LittleEndian.PutUint64(buf[0:8], p.hdr.srcCID)
	binary.LittleEndian.PutUint64(buf[8:16], p.hdr.dstCID)
	binary.LittleEndian.PutUint32(buf[16:20], p.hdr.srcPort)
	binary.LittleEndian.PutUint32(buf[20:24], p.hdr.dstPort)
	binary.LittleEndian.PutUint32(buf[24:28], p.hdr.len)
	binary.LittleEndian.PutUint16(buf[28:30], p.hdr.typ)
	binary.LittleEndian.PutUint16(buf[30:32], p.hdr.op)
	binary.LittleEndian.PutUint32(buf[32:36], p.hdr.flags)
	binary.LittleEndian.PutUint32(buf[36:40], p.hdr.bufAlloc)
	binary.LittleEndian.PutUint32(buf[40:44], p.hdr.fwdCnt)
	copy(buf[HeaderSize:], p.payload)
	return buf
}

// Parse decodes a packet from wire format. It validates the header length,
// packet type, operation code, and that the payload matches the len field.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet: header too short: %d < %d", len(data), HeaderSize)
	}
	hdr := header{
		srcCID:   binary.LittleEndian.Uint64(data[0:8]),
		dstCID:   binary.LittleEndian.Uint64(data[8:16]),
		srcPort:  binary.LittleEndian.Uint32(data[16:20]),
		dstPort:  binary.LittleEndian.Uint32(data[20:24]),
		len:      binary.LittleEndian.Uint32(data[24:28]),
		typ:      binary.LittleEndian.Uint16(data[28:30]),
		op:       binary.LittleEndian.Uint16(data[30:32]),
		flags:    binary.LittleEndian.Uint32(data[32:36]),
		bufAlloc: binary.LittleEndian.Uint32(data[36:40]),
		fwdCnt:   binary.LittleEndian.Uint32(data[40:44]),
	}
	if hdr.typ != TypeStream {
		return nil, fmt.Errorf("packet: unsupported type %d", hdr.typ)
	}
	if !Op(hdr.op).valid() {
		return nil, fmt.Errorf("packet: invalid op %s", Op(hdr.op))
	}
	payload := data[HeaderSize:]
	if uint32(len(payload)) < hdr.len {
		return nil, fmt.Errorf("packet: truncated payload: have %d, want %d", len(payload), hdr.len)
	}
	return &Packet{
		hdr:     hdr,
		payload: append([]byte(nil), payload[:hdr.len]...),
	}, nil
}
