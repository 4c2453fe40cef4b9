package fingerprint

import (
	"io/fs"
	"os"
	"path/filepath"
)

func osStat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func osDirFS(dir string) fs.FS {
	return os.DirFS(dir)
}

// walkDir walks root depth-first, invoking visit with the absolute path and
// DirEntry for every entry including root's immediate children. Returning
// filepath.SkipDir from visit on a directory entry skips its subtree.
func walkDir(root string, visit func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		return visit(path, d)
	})
}
