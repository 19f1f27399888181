// Package bootvol opens the boot volume spec.md §6 describes: a FAT
// partition on a GPT disk with a protective MBR, first partition type EFI.
// It implements only what the loader needs from that volume — a read-only
// root-directory lookup and cluster-chain read of \kernel and \userimg — not
// a general FAT driver, and not a writer: no library in the retrieval pack
// speaks FAT/GPT, so this is read with encoding/binary the same way the
// teacher reads other fixed-layout on-disk structures (its ELF and
// multiboot tag parsing), rather than invented from nothing (see
// DESIGN.md).
package bootvol

import (
	"encoding/binary"
	"io"
	"strings"

	"teaos/kernel"
)

// ErrFileNotFound is returned when the requested name has no root-directory
// entry.
var ErrFileNotFound = &kernel.Error{Module: "bootvol", Message: "file not found on boot volume"}

// ErrBadVolume is returned when the volume's BPB fails the sanity checks
// this narrow reader depends on (FAT32 only, 512-byte sectors).
var ErrBadVolume = &kernel.Error{Module: "bootvol", Message: "unsupported or corrupt FAT volume"}

const (
	bytesPerSectorAssumed = 512
	dirEntrySize          = 32
)

// bpb is the portion of a FAT32 BIOS Parameter Block this reader consults.
type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	sectorsPerFAT32   uint32
	rootCluster       uint32
	totalSectors32    uint32
}

// Volume is an open, read-only FAT32 boot volume.
type Volume struct {
	r   io.ReaderAt
	bpb bpb

	fatStart  int64 // byte offset of the first FAT
	dataStart int64 // byte offset of cluster 2
}

// Open parses the BPB at the start of r and returns a Volume ready for
// ReadFile calls.
func Open(r io.ReaderAt) (*Volume, *kernel.Error) {
	raw := make([]byte, 512)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return nil, ErrBadVolume
	}
	if raw[510] != 0x55 || raw[511] != 0xAA {
		return nil, ErrBadVolume
	}

	b := bpb{
		bytesPerSector:    binary.LittleEndian.Uint16(raw[11:]),
		sectorsPerCluster: raw[13],
		reservedSectors:   binary.LittleEndian.Uint16(raw[14:]),
		numFATs:           raw[16],
		sectorsPerFAT32:   binary.LittleEndian.Uint32(raw[36:]),
		rootCluster:       binary.LittleEndian.Uint32(raw[44:]),
		totalSectors32:    binary.LittleEndian.Uint32(raw[32:]),
	}
	if b.bytesPerSector != bytesPerSectorAssumed || b.sectorsPerCluster == 0 || b.sectorsPerFAT32 == 0 {
		return nil, ErrBadVolume
	}

	fatStart := int64(b.reservedSectors) * int64(b.bytesPerSector)
	dataStart := fatStart + int64(b.numFATs)*int64(b.sectorsPerFAT32)*int64(b.bytesPerSector)

	return &Volume{r: r, bpb: b, fatStart: fatStart, dataStart: dataStart}, nil
}

func (v *Volume) clusterOffset(cluster uint32) int64 {
	clusterSize := int64(v.bpb.sectorsPerCluster) * int64(v.bpb.bytesPerSector)
	return v.dataStart + int64(cluster-2)*clusterSize
}

func (v *Volume) nextCluster(cluster uint32) (uint32, *kernel.Error) {
	off := v.fatStart + int64(cluster)*4
	raw := make([]byte, 4)
	if _, err := v.r.ReadAt(raw, off); err != nil {
		return 0, ErrBadVolume
	}
	return binary.LittleEndian.Uint32(raw) & 0x0FFFFFFF, nil
}

// shortName renders an 8.3 directory entry's name field as "NAME.EXT",
// trimming the space padding FAT uses.
func shortName(entry []byte) string {
	name := strings.TrimRight(string(entry[0:8]), " ")
	ext := strings.TrimRight(string(entry[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// findEntry walks the root directory's cluster chain for a short name match.
func (v *Volume) findEntry(name string) ([]byte, *kernel.Error) {
	cluster := v.bpb.rootCluster
	clusterSize := int(v.bpb.sectorsPerCluster) * int(v.bpb.bytesPerSector)

	for cluster < 0x0FFFFFF8 {
		buf := make([]byte, clusterSize)
		if _, err := v.r.ReadAt(buf, v.clusterOffset(cluster)); err != nil {
			return nil, ErrBadVolume
		}
		for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
			entry := buf[off : off+dirEntrySize]
			if entry[0] == 0x00 {
				return nil, ErrFileNotFound
			}
			if entry[0] == 0xE5 || entry[11]&0x0F == 0x0F {
				continue // deleted or long-name continuation entry
			}
			if shortName(entry) == name {
				return entry, nil
			}
		}
		next, err := v.nextCluster(cluster)
		if err != nil {
			return nil, err
		}
		cluster = next
	}
	return nil, ErrFileNotFound
}

// ReadFile returns the full contents of a root-directory file, following its
// cluster chain to completion. name is matched case-insensitively against
// the 8.3 short name (e.g. "KERNEL", "USERIMG").
func (v *Volume) ReadFile(name string) ([]byte, *kernel.Error) {
	entry, err := v.findEntry(strings.ToUpper(name))
	if err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(entry[28:])
	clusterHi := uint32(binary.LittleEndian.Uint16(entry[20:]))
	clusterLo := uint32(binary.LittleEndian.Uint16(entry[26:]))
	cluster := clusterHi<<16 | clusterLo

	clusterSize := int(v.bpb.sectorsPerCluster) * int(v.bpb.bytesPerSector)
	out := make([]byte, 0, size)

	for cluster < 0x0FFFFFF8 && uint32(len(out)) < size {
		buf := make([]byte, clusterSize)
		if _, rerr := v.r.ReadAt(buf, v.clusterOffset(cluster)); rerr != nil {
			return nil, ErrBadVolume
		}
		remaining := size - uint32(len(out))
		if remaining < uint32(clusterSize) {
			buf = buf[:remaining]
		}
		out = append(out, buf...)

		next, nerr := v.nextCluster(cluster)
		if nerr != nil {
			return nil, nerr
		}
		cluster = next
	}
	return out, nil
}
