package dispatch

// Opcode names one of the fixed set of upcall/downcall message types
// (spec.md §4.7's opcode classification table).
type Opcode uint32

const (
	OpLookup Opcode = iota + 1
	OpCreate
	OpSymlink
	OpGetattr
	OpSetattr
	OpRemove
	OpMkdir
	OpReaddir
	OpReaddirplus
	OpRename
	OpTruncate
	OpGetxattr
	OpSetxattr
	OpListxattr
	OpRemovexattr
	OpStatfs
	OpFSMount
	OpFileIO
	OpFileIOX
	OpFsync
	OpFSUmount
	OpPerfCount
	OpParam
	OpFSKey
	OpMmapRaFlush
	OpCancel
)

var opcodeNames = map[Opcode]string{
	OpLookup: "lookup", OpCreate: "create", OpSymlink: "symlink",
	OpGetattr: "getattr", OpSetattr: "setattr", OpRemove: "remove",
	OpMkdir: "mkdir", OpReaddir: "readdir", OpReaddirplus: "readdirplus",
	OpRename: "rename", OpTruncate: "truncate", OpGetxattr: "getxattr",
	OpSetxattr: "setxattr", OpListxattr: "listxattr", OpRemovexattr: "removexattr",
	OpStatfs: "statfs", OpFSMount: "fs_mount", OpFileIO: "file_io",
	OpFileIOX: "file_iox", OpFsync: "fsync", OpFSUmount: "fs_umount",
	OpPerfCount: "perf_count", OpParam: "param", OpFSKey: "fskey",
	OpMmapRaFlush: "mmap_ra_flush", OpCancel: "cancel",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown_opcode"
}

// postable is the set of opcodes posted as non-blocking sysint operations
// (spec.md §4.7's first classification row); everything else is serviced
// inline with a synthesized downcall.
// fs_mount is serviced inline (ClientCore.inlineResponse), not posted,
// since the dispatcher must update its own mount-known state the instant
// the backend replies and before any other upcall is let through.
var postable = map[Opcode]bool{
	OpLookup: true, OpCreate: true, OpSymlink: true, OpGetattr: true,
	OpSetattr: true, OpRemove: true, OpMkdir: true, OpReaddir: true,
	OpReaddirplus: true, OpRename: true, OpTruncate: true, OpGetxattr: true,
	OpSetxattr: true, OpListxattr: true, OpRemovexattr: true, OpStatfs: true,
	OpFileIO: true, OpFileIOX: true, OpFsync: true,
}

// IsPostable reports whether op is posted through the worker manager
// rather than serviced inline on the dispatcher's own goroutine.
func (op Opcode) IsPostable() bool { return postable[op] }
