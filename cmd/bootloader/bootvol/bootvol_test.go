package bootvol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// fakeVolume builds a minimal single-cluster FAT32 image containing one
// root-directory file, entirely in memory: one reserved sector, one FAT
// sector (plenty for a handful of clusters), root directory at cluster 2,
// file data at cluster 3.
func fakeVolume(t *testing.T, filename string, data []byte) []byte {
	t.Helper()
	const sectorSize = 512
	const sectorsPerCluster = 1
	const reservedSectors = 1
	const numFATs = 1
	const sectorsPerFAT = 1

	buf := make([]byte, sectorSize*16)

	binary.LittleEndian.PutUint16(buf[11:], sectorSize)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:], reservedSectors)
	buf[16] = numFATs
	binary.LittleEndian.PutUint32(buf[32:], uint32(len(buf)/sectorSize))
	binary.LittleEndian.PutUint32(buf[36:], sectorsPerFAT)
	binary.LittleEndian.PutUint32(buf[44:], 2) // root cluster
	buf[510], buf[511] = 0x55, 0xAA

	fatStart := reservedSectors * sectorSize
	dataStart := fatStart + numFATs*sectorsPerFAT*sectorSize
	clusterSize := sectorsPerCluster * sectorSize

	// FAT: cluster 2 (root) is single-cluster EOC; cluster 3 (file) EOC too.
	binary.LittleEndian.PutUint32(buf[fatStart+2*4:], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(buf[fatStart+3*4:], 0x0FFFFFFF)

	rootOff := dataStart + (2-2)*clusterSize
	entry := buf[rootOff : rootOff+32]
	name, ext := splitShortName(filename)
	copy(entry[0:8], padRight(name, 8))
	copy(entry[8:11], padRight(ext, 3))
	binary.LittleEndian.PutUint16(entry[20:], uint16(3>>16))
	binary.LittleEndian.PutUint16(entry[26:], uint16(3))
	binary.LittleEndian.PutUint32(entry[28:], uint32(len(data)))

	fileOff := dataStart + (3-2)*clusterSize
	copy(buf[fileOff:], data)

	return buf
}

func splitShortName(name string) (string, string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

func TestOpenAcceptsWellFormedBPB(t *testing.T) {
	img := fakeVolume(t, "KERNEL", []byte("entrypoint"))
	if _, err := Open(bytes.NewReader(img)); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestOpenRejectsMissingBootSignature(t *testing.T) {
	img := fakeVolume(t, "KERNEL", []byte("x"))
	img[510] = 0
	if _, err := Open(bytes.NewReader(img)); err != ErrBadVolume {
		t.Fatalf("expected ErrBadVolume; got %v", err)
	}
}

func TestReadFileReturnsFileContents(t *testing.T) {
	want := []byte("userimg-bytes")
	img := fakeVolume(t, "USERIMG", want)

	vol, err := Open(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, rerr := vol.ReadFile("userimg")
	if rerr != nil {
		t.Fatalf("ReadFile: %v", rerr)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %q; got %q", want, got)
	}
}

func TestReadFileReturnsNotFoundForMissingName(t *testing.T) {
	img := fakeVolume(t, "KERNEL", []byte("x"))
	vol, err := Open(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, rerr := vol.ReadFile("nope"); rerr != ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound; got %v", rerr)
	}
}
