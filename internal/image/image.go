// Package image assembles a bootable disk image from a bootblock, a
// kernel, and zero or more user-process ELF binaries, and can parse the
// process directory back out of a built image. Grounded on
// original_source/src/createimage.c's image_t state machine; ELF parsing
// uses the standard library's debug/elf rather than a hand-rolled reader,
// since no library in the retrieval pack offers a better-fitting 32-bit
// ELF program-header reader and debug/elf already does exactly this.
package image

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/j-os/kernel/internal/klog"
)

const component = "image"

const (
	// SectorSize is the on-disk unit every region of the image is padded
	// to a multiple of.
	SectorSize = 512

	// osSizeLoc is the byte offset in the bootblock where write_os_size
	// patches in the size after the bootblock, in sectors: the kernel
	// alone in --vm mode, the kernel plus every process otherwise.
	osSizeLoc = 2

	// kernelPaddr is where the kernel is linked to run in physical
	// memory, used to translate its virtual addresses back to image
	// offsets when --vm is not given.
	kernelPaddr = 0x8000

	// DirEntrySize is sizeof(struct directory_t): two 32-bit ints.
	DirEntrySize = 8
)

// DirectoryEntry is one process directory record: the sector the process
// image starts at, and how many sectors it spans.
type DirectoryEntry struct {
	Location int32
	Size     int32
}

// Options controls image layout, mirroring createimage's --vm/--extended
// command-line flags.
type Options struct {
	// VM lays processes out at demand-paged virtual addresses with a
	// process directory sector; without it every image is concatenated
	// at its linked physical address, and at most one process is
	// supported (a second process's physical placement would collide
	// with the first's, since both are positioned by the same constant
	// offset).
	VM bool
	// Extended traces every segment write via klog.Debug, mirroring
	// verbose_printf.
	Extended bool
}

// Builder assembles an image in memory. The zero value is not usable;
// construct with NewBuilder.
type Builder struct {
	opts Options
	data []byte

	// offset translates the virtual address of the image currently being
	// laid out into its physical position in data.
	offset int64
	dir    DirectoryEntry

	pdLoc int64
	pdLim int64
}

// NewBuilder returns an empty builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

func (b *Builder) nbytes() int64 { return int64(len(b.data)) }

func (b *Builder) verbosef(format string, args ...interface{}) {
	if b.opts.Extended {
		klog.Debug(component, format, args...)
	}
}

// Build lays out the bootblock, the kernel, and every process in order,
// returning the finished image's bytes. Mirrors create_image().
func (b *Builder) Build(bootblockPath, kernelPath string, processPaths []string) ([]byte, error) {
	if err := b.addFile(bootblockPath); err != nil {
		return nil, fmt.Errorf("image: bootblock %s: %w", bootblockPath, err)
	}
	if err := b.addFile(kernelPath); err != nil {
		return nil, fmt.Errorf("image: kernel %s: %w", kernelPath, err)
	}

	if !b.opts.VM && len(processPaths) > 1 {
		klog.Warn(component, "non-VM images place every process at the same physical offset; %d processes given, only the first is placed safely", len(processPaths))
	}

	if b.opts.VM {
		b.writeOSSize()
		if err := b.reserveProcessDir(); err != nil {
			return nil, err
		}
	}

	for _, p := range processPaths {
		if err := b.addFile(p); err != nil {
			return nil, fmt.Errorf("image: process %s: %w", p, err)
		}
		if b.opts.VM {
			if err := b.addProcessToDir(); err != nil {
				return nil, err
			}
		}
	}

	if !b.opts.VM {
		b.writeOSSize()
	}

	if b.nbytes()%SectorSize != 0 {
		return nil, fmt.Errorf("image: final size %d is not sector-aligned", b.nbytes())
	}
	return b.data, nil
}

// addFile reads path as an ELF32 binary and writes its loadable segments
// into the image. Mirrors add_file().
func (b *Builder) addFile(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return fmt.Errorf("expected a 32-bit ELF binary, got %s", f.Class)
	}

	klog.Debug(component, "0x%04x: %s", f.Entry, path)

	if len(f.Progs) == 0 {
		return fmt.Errorf("ELF binary has no program headers")
	}

	if err := b.processStart(int64(f.Progs[0].Vaddr)); err != nil {
		return err
	}

	for i, prog := range f.Progs {
		b.verbosef("\tsegment %d offset 0x%04x vaddr 0x%04x filesz 0x%04x memsz 0x%04x",
			i, prog.Off, prog.Vaddr, prog.Filesz, prog.Memsz)

		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 {
			b.verbosef("\t\tskipping non-loadable segment")
			continue
		}
		if err := b.writeSegment(prog); err != nil {
			return err
		}
	}

	b.processEnd()
	return nil
}

// processStart records where the process about to be laid out starts in
// the image and computes the virtual-to-physical offset used by
// writeSegment. Mirrors process_start().
func (b *Builder) processStart(vaddr int64) error {
	nbytes := b.nbytes()
	if nbytes%SectorSize != 0 {
		return fmt.Errorf("image: %d is not sector-aligned at process start", nbytes)
	}
	b.dir.Location = int32(nbytes / SectorSize)

	switch {
	case nbytes == 0:
		if vaddr != 0 {
			return fmt.Errorf("image: bootblock must link at virtual address 0, got 0x%x", vaddr)
		}
		b.offset = 0
	case !b.opts.VM:
		b.offset = -kernelPaddr + SectorSize
	default:
		b.offset = nbytes - alignPageDown(vaddr)
	}
	return nil
}

// processEnd pads the image out to a sector boundary and records how many
// sectors the process just written spans. Mirrors process_end().
func (b *Builder) processEnd() {
	for b.nbytes()%SectorSize != 0 {
		b.data = append(b.data, 0)
	}
	b.dir.Size = int32(b.nbytes()/SectorSize) - b.dir.Location
	b.verbosef("\tprocess starts at sector %d, spans %d sectors", b.dir.Location, b.dir.Size)
}

// writeSegment appends one loadable segment's bytes (and its
// filesz..memsz zero-fill) at its virtual-address-derived physical
// position, padding with zeros if the image has not yet reached that
// position. Mirrors write_segment().
func (b *Builder) writeSegment(prog *elf.Prog) error {
	if prog.Memsz == 0 {
		return nil
	}

	phyaddr := int64(prog.Vaddr) + b.offset
	if phyaddr < b.nbytes() {
		return fmt.Errorf("memory conflict: write would backtrack in image: desired offset 0x%x, current offset 0x%x", phyaddr, b.nbytes())
	}
	for b.nbytes() < phyaddr {
		b.data = append(b.data, 0)
	}

	r := prog.Open()
	segment := make([]byte, prog.Filesz)
	if _, err := io.ReadFull(r, segment); err != nil {
		return fmt.Errorf("reading segment: %w", err)
	}
	b.data = append(b.data, segment...)

	for pad := int64(prog.Memsz) - int64(prog.Filesz); pad > 0; pad-- {
		b.data = append(b.data, 0)
	}
	return nil
}

// writeOSSize patches the bootblock's os_size field: the number of
// sectors following the bootblock itself. Mirrors write_os_size().
func (b *Builder) writeOSSize() {
	osSize := int16(b.nbytes()/SectorSize - 1)
	binary.LittleEndian.PutUint16(b.data[osSizeLoc:osSizeLoc+2], uint16(osSize))
	b.verbosef("writing os_size %d to offset %d", osSize, osSizeLoc)
}

// reserveProcessDir reserves one sector of zeroed space for the process
// directory. Mirrors reserve_process_dir().
func (b *Builder) reserveProcessDir() error {
	if b.nbytes()%SectorSize != 0 {
		return fmt.Errorf("image: process directory must start sector-aligned")
	}
	b.pdLoc = b.nbytes()
	b.pdLim = b.nbytes() + SectorSize
	b.data = append(b.data, make([]byte, SectorSize)...)
	b.verbosef("reserving process directory: 0x%x to 0x%x", b.pdLoc, b.pdLim)
	return nil
}

// addProcessToDir writes the directory entry recorded by the most recent
// processStart/processEnd pair into the reserved directory sector.
// Mirrors add_process_to_dir(). The sector's untouched tail stays zeroed,
// serving as the {0,0} terminator a reader stops at.
func (b *Builder) addProcessToDir() error {
	if b.pdLoc+DirEntrySize >= b.pdLim {
		return fmt.Errorf("image: too many processes, process directory is full")
	}
	binary.LittleEndian.PutUint32(b.data[b.pdLoc:b.pdLoc+4], uint32(b.dir.Location))
	binary.LittleEndian.PutUint32(b.data[b.pdLoc+4:b.pdLoc+8], uint32(b.dir.Size))
	b.verbosef("\tadding process to directory: slot 0x%x location %d size %d", b.pdLoc, b.dir.Location, b.dir.Size)
	b.pdLoc += DirEntrySize
	return nil
}

// alignPageDown rounds addr down to the start of its containing 4 KiB page.
func alignPageDown(addr int64) int64 {
	return addr &^ 0xfff
}

// ParseProcessDirectory reads 8-byte {location,size} records from a
// process directory sector, stopping at the first all-zero record (the
// reserved sector's untouched tail) or the end of the sector, whichever
// comes first.
func ParseProcessDirectory(sector []byte) []DirectoryEntry {
	var entries []DirectoryEntry
	for i := 0; i+DirEntrySize <= len(sector); i += DirEntrySize {
		loc := int32(binary.LittleEndian.Uint32(sector[i : i+4]))
		size := int32(binary.LittleEndian.Uint32(sector[i+4 : i+8]))
		if loc == 0 && size == 0 {
			break
		}
		entries = append(entries, DirectoryEntry{Location: loc, Size: size})
	}
	return entries
}
