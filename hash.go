package pakfs

import (
	"context"
	"crypto/md5"
	"hash"
	"hash/crc32"

	"github.com/zeebo/blake3"
)

// hashChunkSize bounds the memory used while hashing files of any size.
const hashChunkSize = 64 * 1024

// ComputeCRC32 streams the file at p through CRC-32 (IEEE).
func (vfs *VirtualFileSystem) ComputeCRC32(ctx context.Context, p string) (uint32, error) {
	h := crc32.NewIEEE()
	if err := vfs.hashFile(ctx, p, h); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// ComputeMD5 streams the file at p through MD5.
func (vfs *VirtualFileSystem) ComputeMD5(ctx context.Context, p string) ([md5.Size]byte, error) {
	var sum [md5.Size]byte

	h := md5.New()
	if err := vfs.hashFile(ctx, p, h); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ComputeBLAKE3 streams the file at p through BLAKE3-256.
func (vfs *VirtualFileSystem) ComputeBLAKE3(ctx context.Context, p string) ([32]byte, error) {
	var sum [32]byte

	h := blake3.New()
	if err := vfs.hashFile(ctx, p, h); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (vfs *VirtualFileSystem) hashFile(ctx context.Context, p string, h hash.Hash) error {
	f, err := vfs.Open(ctx, p, "rb", FlagQuiet)
	if err != nil {
		return err
	}
	defer f.Close()

	block, err := vfs.pool.Allocate("hash", hashChunkSize)
	if err != nil {
		return err
	}
	defer block.Release()

	buf := block.Bytes()
	for {
		n, err := f.ReadRaw(buf)
		if err != nil {
			return err
		}
		h.Write(buf[:n])
		if n < len(buf) {
			return nil
		}
	}
}
