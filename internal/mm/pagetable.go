package mm

import "github.com/j-os/kernel/internal/kassert"

// Entries per directory/table, mirroring PAGE_N_ENTRIES.
const EntriesPerTable = 1024

// PTE bit flags, mirroring PE_P/PE_RW/PE_US/PE_A/PE_D in memory.h.
// Accessed/Dirty are software-managed here rather than hardware-set,
// since this simulation has no CPU actually walking page tables: they
// are set by AddressSpace on demand-page-in and on an explicit write,
// respectively.
const (
	FlagPresent  = 1 << 0
	FlagWrite    = 1 << 1
	FlagUser     = 1 << 2
	FlagAccessed = 1 << 3
	FlagDirty    = 1 << 4
)

// Entry is one page directory or page table entry: a frame number packed
// with protection/presence bits the way the hardware format does, kept
// unpacked here since Go has no use for a 4096-aligned physical bit
// layout beyond what table_map_page needs.
type Entry struct {
	Frame FrameNumber
	Flags uint32
}

// Present reports whether the mapping is valid.
func (e Entry) Present() bool { return e.Flags&FlagPresent != 0 }

// Writable reports whether the mapping permits writes.
func (e Entry) Writable() bool { return e.Flags&FlagWrite != 0 }

// User reports whether the mapping is accessible from user mode.
func (e Entry) User() bool { return e.Flags&FlagUser != 0 }

// Accessed reports whether the page has been demand-paged in or touched
// again since.
func (e Entry) Accessed() bool { return e.Flags&FlagAccessed != 0 }

// Dirty reports whether the page has been written to since it was
// mapped, the condition that requires write-back to its backing image
// on eviction.
func (e Entry) Dirty() bool { return e.Flags&FlagDirty != 0 }

// PageTable is the second-level translation structure: 1024 entries, each
// mapping one 4 KiB page.
type PageTable struct {
	Entries [EntriesPerTable]Entry
}

// PageDirectory is the first-level translation structure: 1024 entries,
// each either empty or pointing at a PageTable.
type PageDirectory struct {
	tables [EntriesPerTable]*PageTable
	// dirFlags mirrors the directory entry's own present/write/user bits,
	// independent of the page table it points at.
	dirFlags [EntriesPerTable]uint32
}

// NewPageDirectory returns an empty directory with no tables installed.
func NewPageDirectory() *PageDirectory {
	return &PageDirectory{}
}

// DirectoryIndex extracts bits 22-31 of a virtual address, mirroring
// get_directory_index().
func DirectoryIndex(va uint32) int {
	return int(va >> 22)
}

// TableIndex extracts bits 12-21 of a virtual address, mirroring
// get_table_index().
func TableIndex(va uint32) int {
	return int((va >> 12) & 0x3ff)
}

// EnsureTable returns the page table for directory index di, creating an
// empty one and installing it with flags if absent. Mirrors
// dir_ins_table().
func (d *PageDirectory) EnsureTable(di int, flags uint32) *PageTable {
	if d.tables[di] == nil {
		d.tables[di] = &PageTable{}
		d.dirFlags[di] = flags | FlagPresent
	}
	return d.tables[di]
}

// Map installs a present mapping from va to frame with the given
// protection flags, allocating an intermediate page table if this is the
// first mapping in its 4 MiB region. Mirrors table_map_page().
func (d *PageDirectory) Map(va uint32, frame FrameNumber, flags uint32) {
	di := DirectoryIndex(va)
	ti := TableIndex(va)
	pt := d.EnsureTable(di, flags)
	pt.Entries[ti] = Entry{Frame: frame, Flags: flags | FlagPresent}
}

// Unmap clears the mapping for va, if any.
func (d *PageDirectory) Unmap(va uint32) {
	di := DirectoryIndex(va)
	ti := TableIndex(va)
	if d.tables[di] == nil {
		return
	}
	d.tables[di].Entries[ti] = Entry{}
}

// Translate returns the entry mapping va and whether a page table exists
// for its directory region at all (distinguishing "no table" from "table
// exists but this page is not present", both of which surface as a page
// fault but matter for diagnostics).
func (d *PageDirectory) Translate(va uint32) (entry Entry, tableExists bool) {
	di := DirectoryIndex(va)
	if d.tables[di] == nil {
		return Entry{}, false
	}
	ti := TableIndex(va)
	return d.tables[di].Entries[ti], true
}

// SetAccessed ORs FlagAccessed into va's entry, if mapped. Mirrors the
// hardware setting PE_A on any access; called here on demand-page-in and
// on a repeat fault against an already-resident page.
func (d *PageDirectory) SetAccessed(va uint32) {
	d.setFlag(va, FlagAccessed)
}

// SetDirty ORs FlagDirty into va's entry, if mapped. Mirrors the
// hardware setting PE_D on a write; called here by AddressSpace.MarkDirty.
func (d *PageDirectory) SetDirty(va uint32) {
	d.setFlag(va, FlagDirty)
}

func (d *PageDirectory) setFlag(va uint32, flag uint32) {
	di := DirectoryIndex(va)
	if d.tables[di] == nil {
		return
	}
	ti := TableIndex(va)
	d.tables[di].Entries[ti].Flags |= flag
}

// Clone deep-copies d, used when PROCESSES_SHARE_KERNEL_PAGE_TABLE is
// false and each process needs its own private copy of the kernel
// mapping rather than a shared pointer to it.
func (d *PageDirectory) Clone() *PageDirectory {
	out := NewPageDirectory()
	for i, pt := range d.tables {
		if pt == nil {
			continue
		}
		cp := *pt
		out.tables[i] = &cp
		out.dirFlags[i] = d.dirFlags[i]
	}
	return out
}

// ShareTable installs the same *PageTable pointer at index di in both
// directories, used to share the kernel's mapping across every process's
// address space without copying it (PROCESSES_SHARE_KERNEL_PAGE_TABLE).
func ShareTable(dst, src *PageDirectory, di int) {
	kassert.True(src.tables[di] != nil, "mm: cannot share absent table at index %d", di)
	dst.tables[di] = src.tables[di]
	dst.dirFlags[di] = src.dirFlags[di]
}
