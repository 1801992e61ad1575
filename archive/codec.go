package archive

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/mwantia/pakfs/data"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of archive encryption keys.
const KeySize = chacha20poly1305.KeySize

// DeriveKey derives an archive key from a secret, e.g. a passphrase, and a
// per-project salt using HKDF-SHA256.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, secret, salt, []byte("pakfs archive key"))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// encodePayload converts plain content into its stored representation.
// The entry key is bound to encrypted payloads as additional data.
func encodePayload(method Method, level int, key []byte, name string, plain []byte) ([]byte, error) {
	switch method {
	case MethodStore:
		return plain, nil

	case MethodDeflate:
		return deflate(plain, level)

	case MethodDeflateAndEncrypt:
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: archive has no encryption key", data.ErrInvalid)
		}

		compressed, err := deflate(plain, level)
		if err != nil {
			return nil, err
		}

		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}

		output := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(compressed)+aead.Overhead())
		if _, err := rand.Read(output); err != nil {
			return nil, fmt.Errorf("generating nonce: %w", err)
		}

		return aead.Seal(output, output[:chacha20poly1305.NonceSizeX], compressed, []byte(name)), nil

	default:
		return nil, fmt.Errorf("%w: compression method %d", data.ErrUnsupported, method)
	}
}

// decodePayload converts a stored payload back into exactly size bytes of content.
func decodePayload(method Method, key []byte, name string, stored []byte, size int64) ([]byte, error) {
	switch method {
	case MethodStore:
		if int64(len(stored)) != size {
			return nil, fmt.Errorf("%w: stored size %d does not match entry size %d", data.ErrCorrupt, len(stored), size)
		}
		return stored, nil

	case MethodDeflate:
		return inflate(stored, size)

	case MethodDeflateAndEncrypt:
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: archive has no decryption key", data.ErrInvalid)
		}
		if len(stored) < chacha20poly1305.NonceSizeX {
			return nil, fmt.Errorf("%w: encrypted payload too short", data.ErrCorrupt)
		}

		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}

		nonce := stored[:chacha20poly1305.NonceSizeX]
		compressed, err := aead.Open(nil, nonce, stored[chacha20poly1305.NonceSizeX:], []byte(name))
		if err != nil {
			return nil, fmt.Errorf("%w: decrypting payload: %v", data.ErrChecksumMismatch, err)
		}

		return inflate(compressed, size)

	default:
		return nil, fmt.Errorf("%w: compression method %d", data.ErrUnsupported, method)
	}
}

func deflate(plain []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrInvalid, err)
	}
	if _, err := writer.Write(plain); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func inflate(compressed []byte, size int64) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("%w: inflating payload: %v", data.ErrCorrupt, err)
	}

	return out, nil
}
