//go:build windows

package disk

import "os"

// ListRoots returns every drive letter that currently resolves.
func ListRoots() []Entry {
	return driveRoots(func(root string) bool {
		_, err := os.Stat(root)
		return err == nil
	})
}
