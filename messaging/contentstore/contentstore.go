// Package contentstore keeps immutable blobs and directory bundles addressed
// by the blake3 hash of their content.
package contentstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"github.com/klauspost/compress/zstd"
)

type Store interface {
	Upload(ctx context.Context, data []byte) (string, error)
	// Download returns library.ErrContentNotFound for unknown hashes.
	Download(ctx context.Context, hash string) ([]byte, error)
	UploadDirectory(ctx context.Context, dir string) (string, error)
	DownloadDirectoryTo(ctx context.Context, hash, dir string) error
}

type bundleFile struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
	Data []byte `json:"data"`
}

// bundle is a directory tree in canonical form: files sorted by slash
// separated relative path.
type bundle struct {
	Files []bundleFile `json:"files"`
}

// URI is the address other vaults resolve content by.
func URI(hash string) string {
	return "urn:blake3:" + hash
}

// Disk stores content zstd compressed under root, one file per hash.
type Disk struct {
	root string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

var _ Store = (*Disk)(nil)

func NewDisk(root string) (*Disk, error) {
	if err := library.CreateDirectoryIfNotExists(root); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Disk{root: root, enc: enc, dec: dec}, nil
}

func (d *Disk) Close() {
	d.enc.Close()
	d.dec.Close()
}

func (d *Disk) path(hash string) (string, error) {
	if len(hash) != 64 || strings.Trim(hash, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: malformed content hash %q", library.ErrValidation, hash)
	}
	return filepath.Join(d.root, hash[:2], hash[2:]), nil
}

// Upload stores data. Uploading the same bytes twice yields the same hash.
func (d *Disk) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := library.Blake3Sum(data)
	p, err := d.path(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}
	dir, name := filepath.Split(p)
	if err := actors.Write(dir, name, d.enc.EncodeAll(data, nil)); err != nil {
		return "", fmt.Errorf("storing %s: %w", hash, err)
	}
	return hash, nil
}

func (d *Disk) Download(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(hash)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, library.NotFound(library.ErrContentNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	data, err := d.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: content %s is corrupt: %s", library.ErrTransport, hash, err)
	}
	if library.Blake3Sum(data) != hash {
		return nil, fmt.Errorf("%w: content %s does not match its hash", library.ErrTransport, hash)
	}
	return data, nil
}

func (d *Disk) UploadDirectory(ctx context.Context, dir string) (string, error) {
	b, err := readBundle(dir)
	if err != nil {
		return "", err
	}
	encoded, err := library.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encoding bundle: %w", err)
	}
	return d.Upload(ctx, encoded)
}

func (d *Disk) DownloadDirectoryTo(ctx context.Context, hash, dir string) error {
	encoded, err := d.Download(ctx, hash)
	if err != nil {
		return err
	}
	var b bundle
	if err := library.Unmarshal(encoded, &b); err != nil {
		return fmt.Errorf("%w: %s is not a directory bundle: %s", library.ErrValidation, hash, err)
	}
	return writeBundle(ctx, b, dir)
}

func readBundle(dir string) (bundle, error) {
	var b bundle
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		b.Files = append(b.Files, bundleFile{
			Path: filepath.ToSlash(rel),
			Mode: uint32(info.Mode().Perm()),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return bundle{}, fmt.Errorf("reading %s: %w", dir, err)
	}
	return b, nil
}

func writeBundle(ctx context.Context, b bundle, dir string) error {
	if err := library.CreateDirectoryIfNotExists(dir); err != nil {
		return err
	}
	for _, f := range b.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		clean := path.Clean(f.Path)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("%w: bundle path %q escapes the target directory", library.ErrValidation, f.Path)
		}
		target := filepath.Join(dir, filepath.FromSlash(clean))
		if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
			return err
		}
		mode := fs.FileMode(f.Mode).Perm()
		if mode == 0 {
			mode = 0600
		}
		if err := os.WriteFile(target, f.Data, mode); err != nil {
			return err
		}
	}
	return nil
}
