package actors

import (
	"fmt"
	"os"
	"path/filepath"

	"dappvault/engine/library"
)

// Open reads dir/name. The bool is false when the file does not exist.
func Open(dir, name string) ([]byte, bool, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Write replaces dir/name with b. The new content is written to a temporary
// file and renamed over the old one so a crash never leaves a torn file.
func Write(dir, name string, b []byte) error {
	if err := library.CreateDirectoryIfNotExists(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}
