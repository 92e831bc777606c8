package par3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marmos91/par3/internal/logger"
)

// PacketStore indexes the packets read from a set's par files. Metadata
// packets are kept parsed in memory; recovery and data payloads stay on
// disk and are recorded as (file, offset, length) references so verify
// never has to hold recovery volumes in memory.
type PacketStore struct {
	SetID     SetID
	haveSetID bool

	seen    map[Checksum]bool
	Packets map[TypeTag][]*Packet

	Recovery []RecoveryRef
	Data     []DataRef

	// Discarded counts packets whose checksum failed; another copy may
	// still supply the content.
	Discarded int
}

// RecoveryRef locates one recovery block payload on disk.
type RecoveryRef struct {
	Path          string
	PayloadOffset int64
	PayloadSize   uint64
	BlockIndex    uint64
	Matrix        Checksum
}

// DataRef locates one verbatim input block payload on disk.
type DataRef struct {
	Path          string
	PayloadOffset int64
	PayloadSize   uint64
	BlockIndex    uint64
}

// NewPacketStore returns an empty store.
func NewPacketStore() *PacketStore {
	return &PacketStore{
		seen:    make(map[Checksum]bool),
		Packets: make(map[TypeTag][]*Packet),
	}
}

// add indexes a parsed packet, deduplicating by checksum. The first packet
// seen, of any type, fixes the store's SetID; packets from any other set are
// ignored. It reports whether the packet was new.
func (s *PacketStore) add(p *Packet, path string, offset int64) bool {
	if !s.haveSetID {
		s.SetID = p.SetID
		s.haveSetID = true
	}
	if p.SetID != s.SetID {
		return false
	}
	if s.seen[p.Checksum] {
		return false
	}
	s.seen[p.Checksum] = true

	switch p.Tag {
	case TagRecvData:
		if rp, err := parseRecvDataPacket(p.Body); err == nil {
			s.Recovery = append(s.Recovery, RecoveryRef{
				Path:          path,
				PayloadOffset: offset + HeaderSize + 24,
				PayloadSize:   uint64(len(rp.Data)),
				BlockIndex:    rp.BlockIndex,
				Matrix:        rp.MatrixChecksum,
			})
		}
	case TagData:
		if dp, err := parseDataPacket(p.Body); err == nil {
			s.Data = append(s.Data, DataRef{
				Path:          path,
				PayloadOffset: offset + HeaderSize + 8,
				PayloadSize:   uint64(len(dp.Data)),
				BlockIndex:    dp.BlockIndex,
			})
		}
	default:
		s.Packets[p.Tag] = append(s.Packets[p.Tag], p)
	}
	return true
}

// ScanFile searches path for packets at every offset, tolerating garbage
// between packets. It returns the number of packets indexed.
func (s *PacketStore) ScanFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, NewError(KindFileIO, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, NewError(KindFileIO, fmt.Errorf("stat %s: %w", path, err))
	}
	size := st.Size()

	added := 0
	var offset int64
	for offset+HeaderSize <= size {
		pos, err := findMagic(f, offset, size)
		if err != nil {
			return added, err
		}
		if pos < 0 {
			break
		}

		var header [HeaderSize]byte
		if _, err := f.ReadAt(header[:], pos); err != nil {
			break
		}
		length := binary.LittleEndian.Uint64(header[24:32])
		if length < HeaderSize || length > MaxPacketSize || pos+int64(length) > size {
			offset = pos + 1
			continue
		}

		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, pos); err != nil {
			return added, NewError(KindFileIO, fmt.Errorf("read %s: %w", path, err))
		}
		p, err := ParsePacket(buf)
		if err != nil {
			s.Discarded++
			offset = pos + 1
			continue
		}
		if s.add(p, path, pos) {
			added++
		}
		offset = pos + int64(length)
	}

	logger.Debug("scanned par file", logger.KeyPath, path, logger.KeyPacketCount, added)
	return added, nil
}

// findMagic returns the offset of the next packet magic at or after
// offset, or -1.
func findMagic(f *os.File, offset, size int64) (int64, error) {
	const window = 1 << 20
	buf := make([]byte, window+len(Magic)-1)
	for offset < size {
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return 0, NewError(KindFileIO, err)
		}
		if n < len(Magic) {
			return -1, nil
		}
		if i := bytes.Index(buf[:n], Magic[:]); i >= 0 {
			return offset + int64(i), nil
		}
		offset += int64(n - (len(Magic) - 1))
		if err == io.EOF {
			return -1, nil
		}
	}
	return -1, nil
}

// firstOf returns the single parsed packet of a type, or nil.
func (s *PacketStore) firstOf(tag TypeTag) *Packet {
	ps := s.Packets[tag]
	if len(ps) == 0 {
		return nil
	}
	return ps[0]
}

// Start returns the set's Start packet.
func (s *PacketStore) Start() (*StartPacket, error) {
	p := s.firstOf(TagStart)
	if p == nil {
		return nil, fmt.Errorf("%w: start packet", ErrMissingPacket)
	}
	return parseStartPacket(p.Body)
}

// Root returns the set's Root packet.
func (s *PacketStore) Root() (*RootPacket, error) {
	p := s.firstOf(TagRoot)
	if p == nil {
		return nil, fmt.Errorf("%w: root packet", ErrMissingPacket)
	}
	return parseRootPacket(p.Body)
}

// Creator returns the creator text, if present.
func (s *PacketStore) Creator() string {
	if p := s.firstOf(TagCreator); p != nil {
		return string(p.Body)
	}
	return ""
}

// Comment returns the comment text, if present.
func (s *PacketStore) Comment() string {
	if p := s.firstOf(TagComment); p != nil {
		return string(p.Body)
	}
	return ""
}

// byChecksum finds a parsed metadata packet by its checksum.
func (s *PacketStore) byChecksum(c Checksum) *Packet {
	for _, ps := range s.Packets {
		for _, p := range ps {
			if p.Checksum == c {
				return p
			}
		}
	}
	return nil
}

// BuildMap reconstructs the slice/block/chunk/file graph from the store's
// metadata packets: the reverse of the mapper.
func (s *PacketStore) BuildMap() (*BlockMap, error) {
	start, err := s.Start()
	if err != nil {
		return nil, err
	}
	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	m := &BlockMap{
		BlockSize: start.BlockSize,
		Blocks:    make([]Block, root.BlockCount),
		Absolute:  root.Attr&RootAttrAbsolute != 0,
	}

	// Walk the tree from the root's sorted child checksums; nested
	// directories contribute their children depth-first so the file index
	// order is stable across runs.
	if err := s.addChildren(m, root.Children, ""); err != nil {
		return nil, err
	}

	// External data packets fill in per-block checksums.
	for _, p := range s.Packets[TagExtData] {
		ext, err := parseExtDataPacket(p.Body)
		if err != nil {
			logger.Warn("skipping malformed external data packet", logger.KeyError, err)
			continue
		}
		for i := range ext.CRCs {
			idx := ext.FirstBlock + uint64(i)
			if idx >= uint64(len(m.Blocks)) {
				return nil, fmt.Errorf("%w: external data for block %d of %d", ErrMalformedPacket, idx, len(m.Blocks))
			}
			m.Blocks[idx].CRC = ext.CRCs[i]
			m.Blocks[idx].Hash = ext.Hashes[i]
		}
	}
	return m, nil
}

func (s *PacketStore) addChildren(m *BlockMap, children []Checksum, prefix string) error {
	for _, c := range children {
		p := s.byChecksum(c)
		if p == nil {
			return fmt.Errorf("%w: child packet %x", ErrMissingPacket, c[:8])
		}
		switch p.Tag {
		case TagFile:
			fp, err := parseFilePacket(p.Body, m.BlockSize)
			if err != nil {
				return err
			}
			if err := s.addFile(m, fp, prefix); err != nil {
				return err
			}
		case TagDir:
			dp, err := parseDirPacket(p.Body)
			if err != nil {
				return err
			}
			di := DirInfo{Name: prefix + dp.Name, Children: dp.Children}
			s.applyOptions(dp.Options, func(u *UnixPermPacket) {
				di.HasUnix, di.MTime, di.Mode = true, u.MTime, u.Mode
			})
			m.Dirs = append(m.Dirs, di)
			if err := s.addChildren(m, dp.Children, prefix+dp.Name+"/"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected %s packet in tree", ErrMalformedPacket, p.Tag)
		}
	}
	return nil
}

func (s *PacketStore) addFile(m *BlockMap, fp *FilePacket, prefix string) error {
	name := prefix + fp.Name
	if !m.Absolute && !ValidSetPath(name) {
		return fmt.Errorf("%w: unsafe path %q", ErrMalformedPacket, name)
	}

	fileIndex := len(m.Files)
	fi := FileInfo{
		Name:       name,
		Hash:       fp.Hash,
		HeadCRC:    fp.HeadCRC,
		ChunkFirst: len(m.Chunks),
		ChunkCount: len(fp.Chunks),
		SliceFirst: len(m.Slices),
	}
	s.applyOptions(fp.Options, func(u *UnixPermPacket) {
		fi.HasUnix, fi.MTime, fi.Mode = true, u.MTime, u.Mode
	})

	bs := m.BlockSize
	var offset uint64
	for _, c := range fp.Chunks {
		m.Chunks = append(m.Chunks, c)
		if c.Size == 0 {
			fi.State |= FileUnprotected
			offset += c.Block // gap length
			continue
		}

		fulls := c.Size / bs
		for b := uint64(0); b < fulls; b++ {
			blockIndex := c.Block + b
			if blockIndex >= uint64(len(m.Blocks)) {
				return fmt.Errorf("%w: block %d out of range", ErrMalformedPacket, blockIndex)
			}
			si := len(m.Slices)
			m.Slices = append(m.Slices, Slice{
				File:       fileIndex,
				FileOffset: offset,
				Block:      int(blockIndex),
				Size:       bs,
			})
			blk := &m.Blocks[blockIndex]
			blk.State |= BlockHasFull
			blk.Size = bs
			blk.Slices = append(blk.Slices, si)
			offset += bs
		}

		rem := c.Size % bs
		if rem >= tinyTailLimit {
			if c.TailBlock >= uint64(len(m.Blocks)) {
				return fmt.Errorf("%w: tail block %d out of range", ErrMalformedPacket, c.TailBlock)
			}
			si := len(m.Slices)
			m.Slices = append(m.Slices, Slice{
				File:       fileIndex,
				FileOffset: offset,
				Block:      int(c.TailBlock),
				TailOffset: c.TailOffset,
				Size:       rem,
			})
			blk := &m.Blocks[c.TailBlock]
			blk.State |= BlockHasTails
			if end := c.TailOffset + rem; end > blk.Size {
				blk.Size = end
			}
			blk.Slices = append(blk.Slices, si)
		}
		offset += rem
	}
	fi.Size = offset
	m.Files = append(m.Files, fi)

	// Keep per-block slice lists ordered by (tail offset, size).
	for i := range m.Blocks {
		blk := &m.Blocks[i]
		sort.Slice(blk.Slices, func(a, b int) bool {
			sa, sb := m.Slices[blk.Slices[a]], m.Slices[blk.Slices[b]]
			if sa.TailOffset != sb.TailOffset {
				return sa.TailOffset < sb.TailOffset
			}
			return sa.Size < sb.Size
		})
	}
	return nil
}

func (s *PacketStore) applyOptions(opts []Checksum, unix func(*UnixPermPacket)) {
	for _, o := range opts {
		p := s.byChecksum(o)
		if p == nil {
			continue
		}
		if p.Tag == TagUnixPerm {
			if u, err := parseUnixPermPacket(p.Body); err == nil {
				unix(u)
			}
		}
	}
}

// MatrixFor returns the matrix packet matching a recovery reference.
func (s *PacketStore) MatrixFor(ref RecoveryRef) *Packet {
	for _, tag := range []TypeTag{TagCauchy, TagFFT} {
		for _, p := range s.Packets[tag] {
			if p.Checksum == ref.Matrix {
				return p
			}
		}
	}
	return nil
}

// ReadPayload reads a referenced payload from disk.
func ReadPayload(path string, offset int64, size uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewError(KindFileIO, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, NewError(KindFileIO, fmt.Errorf("read %s: %w", path, err))
	}
	return buf, nil
}
