package par3

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Every packet is a 48-byte header followed by a body:
//
//	offset 0   8  magic "PAR3\0PKT"
//	offset 8  16  BLAKE3 truncation over bytes [24, length)
//	offset 24  8  packet length including the header, little endian
//	offset 32  8  InputSetID
//	offset 40  8  type tag
//
// Packets are identified by (type, checksum); equal checksums are the same
// packet regardless of which file or offset they were read from.

// Magic is the 8-byte packet signature.
var Magic = [8]byte{'P', 'A', 'R', '3', 0, 'P', 'K', 'T'}

// HeaderSize is the fixed packet header length.
const HeaderSize = 48

// MaxPacketSize bounds a single packet; anything claiming more is treated
// as a corrupt length field.
const MaxPacketSize = 1 << 30

// TypeTag is the 8-byte packet type identifier.
type TypeTag [8]byte

// Packet type tags. Seven-character names are padded with a NUL.
var (
	TagStart    = TypeTag{'P', 'A', 'R', ' ', 'S', 'T', 'A', 0}
	TagCauchy   = TypeTag{'P', 'A', 'R', ' ', 'C', 'A', 'U', 0}
	TagFFT      = TypeTag{'P', 'A', 'R', ' ', 'F', 'F', 'T', 0}
	TagFile     = TypeTag{'P', 'A', 'R', ' ', 'F', 'I', 'L', 0}
	TagDir      = TypeTag{'P', 'A', 'R', ' ', 'D', 'I', 'R', 0}
	TagRoot     = TypeTag{'P', 'A', 'R', ' ', 'R', 'O', 'O', 0}
	TagExtData  = TypeTag{'P', 'A', 'R', ' ', 'E', 'X', 'T', 0}
	TagRecvData = TypeTag{'P', 'A', 'R', ' ', 'R', 'E', 'C', 0}
	TagData     = TypeTag{'P', 'A', 'R', ' ', 'D', 'A', 'T', 0}
	TagCreator  = TypeTag{'P', 'A', 'R', ' ', 'C', 'R', 'E', 0}
	TagComment  = TypeTag{'P', 'A', 'R', ' ', 'C', 'O', 'M', 0}
	TagUnixPerm = TypeTag{'P', 'A', 'R', ' ', 'U', 'N', 'X', 0}
)

func (t TypeTag) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

// SetID names a protected set.
type SetID [8]byte

func (id SetID) String() string {
	return fmt.Sprintf("%016x", binary.BigEndian.Uint64(id[:]))
}

// Checksum is the 128-bit truncated BLAKE3 identity of a packet.
type Checksum [16]byte

// packetChecksum hashes buf[24:] (length, set id, type, body).
func packetChecksum(buf []byte) Checksum {
	sum := blake3.Sum256(buf[24:])
	var c Checksum
	copy(c[:], sum[:16])
	return c
}

// MakePacket assembles a complete packet from a body: header fields,
// then the checksum over everything past it.
func MakePacket(setID SetID, tag TypeTag, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(buf)))
	copy(buf[32:40], setID[:])
	copy(buf[40:48], tag[:])
	copy(buf[HeaderSize:], body)
	sum := packetChecksum(buf)
	copy(buf[8:24], sum[:])
	return buf
}

// Packet is one parsed packet: its identity plus the raw body.
type Packet struct {
	Tag      TypeTag
	SetID    SetID
	Checksum Checksum
	Body     []byte
}

// ParsePacket validates buf as a complete packet. buf must start at the
// magic and contain at least the length announced in the header.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformedPacket)
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedPacket)
	}
	length := binary.LittleEndian.Uint64(buf[24:32])
	if length < HeaderSize || length > MaxPacketSize {
		return nil, fmt.Errorf("%w: implausible length %d", ErrMalformedPacket, length)
	}
	if uint64(len(buf)) < length {
		return nil, fmt.Errorf("%w: body extends past available data", ErrMalformedPacket)
	}
	buf = buf[:length]

	var want Checksum
	copy(want[:], buf[8:24])
	if packetChecksum(buf) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedPacket)
	}

	p := &Packet{}
	copy(p.Tag[:], buf[40:48])
	copy(p.SetID[:], buf[32:40])
	p.Checksum = want
	p.Body = append([]byte(nil), buf[HeaderSize:]...)
	return p, nil
}
