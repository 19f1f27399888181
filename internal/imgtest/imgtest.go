// Package imgtest is the host-side harness spec.md §1 names as the external
// "xtask" collaborator: since xtask itself is out of scope, this package
// lays out a minimal two-file boot volume (grounded on cmd/bootloader's own
// elf and bootvol packages), boots it under a QEMU AArch64 virt machine as a
// subprocess, and scrapes its serial output for the §8 scenario assertions
// that only make sense against a running image (notably scenario 6, the
// svc #0 "hi" round trip).
//
// golang.org/x/sys is used here, and only here, for the raw pipe plumbing
// that hands QEMU's serial port to this process without going through a
// pty: seen wired the same narrow, host-side-only way in both biscuit and
// SeleniaProject-Orizon's own test tooling.
package imgtest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"teaos/cmd/bootloader/bootvol"
)

// ErrQEMUNotFound is returned by Run when no qemu-system-aarch64 binary is
// reachable on PATH; callers treat it as "skip this test", not a failure.
var ErrQEMUNotFound = errors.New("imgtest: qemu-system-aarch64 not found on PATH")

// Scenario describes one boot-and-observe run: the two images to place on
// the synthetic boot volume and a substring its serial log must contain
// within the timeout.
type Scenario struct {
	KernelELF  []byte
	UserimgELF []byte
	WantLog    string
	Timeout    time.Duration
}

// BuildVolume lays out a raw FAT32 image containing \kernel and \userimg,
// the same two root-directory files cmd/bootloader.buildBootInfo expects to
// find, ready to be handed to QEMU as a `-drive file=...,format=raw` disk.
func BuildVolume(s Scenario) ([]byte, error) {
	// A single-cluster-per-file layout is enough for the small test images
	// this harness builds; see cmd/bootloader/bootvol's own BPB fields for
	// what each offset means.
	const sectorSize = 512
	const reservedSectors = 1
	const sectorsPerFAT = 1
	const clusterSize = sectorSize

	fatStart := reservedSectors * sectorSize
	dataStart := fatStart + sectorsPerFAT*sectorSize
	clustersNeeded := 2 + 2 // root dir + kernel + userimg
	total := dataStart + (clustersNeeded+1)*clusterSize
	buf := make([]byte, total)

	le16 := func(off int, v uint16) { buf[off], buf[off+1] = byte(v), byte(v>>8) }
	le32 := func(off int, v uint32) {
		buf[off], buf[off+1], buf[off+2], buf[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	le16(11, sectorSize)
	buf[13] = 1
	le16(14, reservedSectors)
	buf[16] = 1
	le32(32, uint32(total/sectorSize))
	le32(36, sectorsPerFAT)
	le32(44, 2)
	buf[510], buf[511] = 0x55, 0xAA

	markEOC := func(cluster int) { le32(fatStart+cluster*4, 0x0FFFFFFF) }
	markEOC(2)

	writeEntry := func(slot int, name string, data []byte, cluster int) {
		markEOC(cluster)
		off := dataStart + (cluster-2)*clusterSize
		copy(buf[off:], data)

		entry := buf[dataStart+slot*32 : dataStart+slot*32+32]
		for i := range entry[:11] {
			entry[i] = ' '
		}
		copy(entry[0:8], name)
		binary16 := func(off int, v uint16) { entry[off], entry[off+1] = byte(v), byte(v>>8) }
		binary16(20, uint16(cluster>>16))
		binary16(26, uint16(cluster))
		le32Entry := func(off int, v uint32) {
			entry[off], entry[off+1], entry[off+2], entry[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		}
		le32Entry(28, uint32(len(data)))
	}
	writeEntry(0, "KERNEL", s.KernelELF, 3)
	writeEntry(1, "USERIMG", s.UserimgELF, 4)

	// Sanity-check the layout this function just produced against the real
	// reader before handing it to QEMU: a bug here should fail fast in Go,
	// not three minutes into an emulator boot.
	if _, err := bootvol.Open(bytesReaderAt(buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

// Run writes the scenario's volume to a temp file, launches QEMU against
// it, and waits for WantLog to appear on the emulated serial port (piped
// back through an os.Pipe rather than a pty, via the raw pipe2 call
// golang.org/x/sys/unix exposes).
func Run(ctx context.Context, s Scenario) error {
	qemuPath, err := exec.LookPath("qemu-system-aarch64")
	if err != nil {
		return ErrQEMUNotFound
	}

	vol, err := BuildVolume(s)
	if err != nil {
		return err
	}

	diskFile, err := os.CreateTemp("", "teaos-imgtest-*.img")
	if err != nil {
		return err
	}
	defer os.Remove(diskFile.Name())
	if _, err := diskFile.Write(vol); err != nil {
		diskFile.Close()
		return err
	}
	diskFile.Close()

	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, w, err := pipe()
	if err != nil {
		return err
	}
	defer r.Close()

	// -nographic alone multiplexes the emulated serial port onto QEMU's own
	// stdio, which is all this harness needs: no separate -serial target to
	// keep in sync with cmd.Stdout.
	cmd := exec.CommandContext(runCtx, qemuPath,
		"-M", "virt",
		"-cpu", "cortex-a72",
		"-nographic",
		"-drive", "file="+diskFile.Name()+",format=raw,if=none,id=bootvol",
		"-device", "virtio-blk-device,drive=bootvol",
	)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		return err
	}
	w.Close()

	var out bytes.Buffer
	scanner := bufio.NewScanner(r)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			out.WriteString(scanner.Text())
			out.WriteByte('\n')
			if strings.Contains(out.String(), s.WantLog) {
				cancel()
				return
			}
		}
	}()

	<-done
	_ = cmd.Wait()

	if !strings.Contains(out.String(), s.WantLog) {
		return fmt.Errorf("imgtest: serial log never contained %q; got %q", s.WantLog, out.String())
	}
	return nil
}

// pipe wraps unix.Pipe2 so Run never has to reason about the fd-vs-*os.File
// boundary itself; golang.org/x/sys is the only thing in this module that
// ever calls a syscall package function by raw number.
func pipe() (r, w *os.File, err error) {
	var fds [2]int
	if perr := unix.Pipe2(fds[:], unix.O_CLOEXEC); perr != nil {
		return nil, nil, perr
	}
	return os.NewFile(uintptr(fds[0]), "imgtest-r"), os.NewFile(uintptr(fds[1]), "imgtest-w"), nil
}
