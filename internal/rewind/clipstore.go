package rewind

import (
	"context"
	"fmt"

	"github.com/avfs/avfs"
	"github.com/google/uuid"
)

// ClipStore persists clip artifacts and hands back references to them.
// Implementations can target the local disk, an in-memory filesystem, or a
// remote object store.
type ClipStore interface {
	Save(ctx context.Context, channel ChannelID, clip Clip) (ClipRef, error)
}

// FSClipStore writes clips to a virtual filesystem under root, one directory
// per channel. Production wiring passes an osfs filesystem; tests pass memfs.
type FSClipStore struct {
	vfs  avfs.VFS
	root string
}

// NewFSClipStore returns a clip store rooted at root on the given
// filesystem.
func NewFSClipStore(vfs avfs.VFS, root string) *FSClipStore {
	return &FSClipStore{vfs: vfs, root: root}
}

// Save implements ClipStore. The artifact name is a fresh UUID; segment
// URLs can carry token query params and are not safe as file names.
func (s *FSClipStore) Save(ctx context.Context, channel ChannelID, clip Clip) (ClipRef, error) {
	if err := ctx.Err(); err != nil {
		return ClipRef{}, err
	}

	dir := s.vfs.Join(s.root, string(channel))
	if err := s.vfs.MkdirAll(dir, 0o755); err != nil {
		return ClipRef{}, fmt.Errorf("create clip directory: %w", err)
	}

	id := uuid.NewString()
	name := s.vfs.Join(dir, id+".ts")
	if err := s.vfs.WriteFile(name, clip.Bytes, 0o644); err != nil {
		return ClipRef{}, fmt.Errorf("write clip: %w", err)
	}

	return ClipRef{ID: id, Path: name, Size: int64(len(clip.Bytes))}, nil
}
