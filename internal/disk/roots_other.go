//go:build !windows

package disk

// ListRoots returns the filesystem root; drive letters only exist on Windows.
func ListRoots() []Entry {
	return []Entry{{Path: "/", Name: "/", Type: TypeDrive}}
}
