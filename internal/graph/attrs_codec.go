package graph

import (
	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/wire"
)

// saveAttrs/loadAttrs encode each node type's attribute struct. Every
// branch writes/reads a fixed, ordered field list; adding a field to a
// type means bumping currentVersion (persist.go) since old records would
// otherwise be misread.
func saveAttrs(ww *wire.Writer, typ Type, attrs NodeAttrs) {
	switch typ {
	case TypeSource:
		a := attrs.(SourceAttrs)
		ww.WriteString(a.Path)
	case TypeObject:
		a := attrs.(ObjectAttrs)
		ww.WriteString(a.CompilerNode)
		ww.WriteStrings(a.CompilerArgs)
		ww.WriteString(a.PrecompiledHdr)
		ww.WriteString(a.OutputPath)
	case TypeObjectList:
		a := attrs.(ObjectListAttrs)
		ww.WriteString(a.CompilerNode)
		ww.WriteStrings(a.CompilerArgs)
		ww.WriteString(a.OutputDir)
	case TypeStaticLibrary:
		a := attrs.(LibraryAttrs)
		ww.WriteString(a.OutputPath)
	case TypeSharedLibrary:
		a := attrs.(DLLAttrs)
		ww.WriteString(a.OutputPath)
		ww.WriteString(a.ImportLibPath)
	case TypeExecutable:
		a := attrs.(ExeAttrs)
		ww.WriteString(a.OutputPath)
		ww.WriteStrings(a.LinkerArgs)
	case TypeAlias:
		// no fields
	case TypeDirectoryListing:
		a := attrs.(DirectoryListingAttrs)
		ww.WriteString(a.Dir)
		ww.WriteStrings(a.Patterns)
		ww.WriteBool(a.Recurse)
	case TypeUnity:
		a := attrs.(UnityAttrs)
		ww.WriteString(a.OutputPattern)
		ww.WriteUint32(uint32(a.NumFiles))
	case TypeCopy:
		a := attrs.(CopyAttrs)
		ww.WriteString(a.Source)
		ww.WriteString(a.Dest)
	case TypeCopyDir:
		a := attrs.(CopyDirAttrs)
		ww.WriteString(a.SourceDir)
		ww.WriteString(a.DestDir)
		ww.WriteStrings(a.Patterns)
	case TypeRemoveDir:
		a := attrs.(RemoveDirAttrs)
		ww.WriteString(a.Dir)
	case TypeExec:
		a := attrs.(ExecAttrs)
		ww.WriteString(a.Cmd)
		ww.WriteStrings(a.Args)
		ww.WriteString(a.WorkingDir)
	case TypeTest:
		a := attrs.(TestAttrs)
		ww.WriteString(a.Cmd)
		ww.WriteStrings(a.Args)
		ww.WriteUint32(uint32(a.TimeoutSec))
	case TypeCompiler:
		a := attrs.(CompilerAttrs)
		ww.WriteString(a.Executable)
		ww.WriteStrings(a.ExtraFiles)
	case TypeCompilerInfo:
		a := attrs.(CompilerInfoAttrs)
		ww.WriteString(a.CompilerNode)
		ww.WriteString(a.Family)
	case TypeSettings:
		a := attrs.(SettingsAttrs)
		ww.WriteString(a.CachePath)
		ww.WriteBool(a.CacheReadEnabled)
		ww.WriteBool(a.CacheWriteEnabled)
	case TypeWorkerSettings:
		a := attrs.(WorkerSettingsAttrs)
		ww.WriteUint32(uint32(a.ConnectionLimit))
		ww.WriteUint32(uint32(a.MinimumFreeMemMiB))
		ww.WriteUint8(uint8(a.Mode))
	case TypeTextFile:
		a := attrs.(TextFileAttrs)
		ww.WriteString(a.OutputPath)
		ww.WriteString(a.Content)
	case TypeListDependencies:
		a := attrs.(ListDependenciesAttrs)
		ww.WriteString(a.Target)
	case TypeProxy:
		a := attrs.(ProxyAttrs)
		ww.WriteStrings(a.Targets)
	}
}

func loadAttrs(rr *wire.Reader, typ Type) (NodeAttrs, error) {
	switch typ {
	case TypeSource:
		return SourceAttrs{Path: rr.ReadString()}, nil
	case TypeObject:
		return ObjectAttrs{
			CompilerNode:   rr.ReadString(),
			CompilerArgs:   rr.ReadStrings(),
			PrecompiledHdr: rr.ReadString(),
			OutputPath:     rr.ReadString(),
		}, nil
	case TypeObjectList:
		return ObjectListAttrs{
			CompilerNode: rr.ReadString(),
			CompilerArgs: rr.ReadStrings(),
			OutputDir:    rr.ReadString(),
		}, nil
	case TypeStaticLibrary:
		return LibraryAttrs{OutputPath: rr.ReadString()}, nil
	case TypeSharedLibrary:
		return DLLAttrs{OutputPath: rr.ReadString(), ImportLibPath: rr.ReadString()}, nil
	case TypeExecutable:
		return ExeAttrs{OutputPath: rr.ReadString(), LinkerArgs: rr.ReadStrings()}, nil
	case TypeAlias:
		return AliasAttrs{}, nil
	case TypeDirectoryListing:
		return DirectoryListingAttrs{
			Dir:      rr.ReadString(),
			Patterns: rr.ReadStrings(),
			Recurse:  rr.ReadBool(),
		}, nil
	case TypeUnity:
		return UnityAttrs{
			OutputPattern: rr.ReadString(),
			NumFiles:      int(rr.ReadUint32()),
			Isolated:      make(map[string]bool),
		}, nil
	case TypeCopy:
		return CopyAttrs{Source: rr.ReadString(), Dest: rr.ReadString()}, nil
	case TypeCopyDir:
		return CopyDirAttrs{
			SourceDir: rr.ReadString(),
			DestDir:   rr.ReadString(),
			Patterns:  rr.ReadStrings(),
		}, nil
	case TypeRemoveDir:
		return RemoveDirAttrs{Dir: rr.ReadString()}, nil
	case TypeExec:
		return ExecAttrs{
			Cmd:        rr.ReadString(),
			Args:       rr.ReadStrings(),
			WorkingDir: rr.ReadString(),
		}, nil
	case TypeTest:
		return TestAttrs{
			Cmd:        rr.ReadString(),
			Args:       rr.ReadStrings(),
			TimeoutSec: int(rr.ReadUint32()),
		}, nil
	case TypeCompiler:
		return CompilerAttrs{Executable: rr.ReadString(), ExtraFiles: rr.ReadStrings()}, nil
	case TypeCompilerInfo:
		return CompilerInfoAttrs{CompilerNode: rr.ReadString(), Family: rr.ReadString()}, nil
	case TypeSettings:
		return SettingsAttrs{
			CachePath:         rr.ReadString(),
			CacheReadEnabled:  rr.ReadBool(),
			CacheWriteEnabled: rr.ReadBool(),
		}, nil
	case TypeWorkerSettings:
		return WorkerSettingsAttrs{
			ConnectionLimit:   int(rr.ReadUint32()),
			MinimumFreeMemMiB: int(rr.ReadUint32()),
			Mode:              WorkerSettingsMode(rr.ReadUint8()),
		}, nil
	case TypeTextFile:
		return TextFileAttrs{OutputPath: rr.ReadString(), Content: rr.ReadString()}, nil
	case TypeListDependencies:
		return ListDependenciesAttrs{Target: rr.ReadString()}, nil
	case TypeProxy:
		return ProxyAttrs{Targets: rr.ReadStrings()}, nil
	default:
		return nil, xerrors.Errorf("graph: unknown node type %d in database", typ)
	}
}
