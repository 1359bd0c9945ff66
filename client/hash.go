package main

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"peershare/common"
)

// fragmentLen is how much of each piece digest goes on the wire: the
// leading 20 hex characters (80 bits).
const fragmentLen = 20

// maxBlobChars caps the piece-hash blob so the whole UPLOAD_FILE line
// stays under the 64 KiB read contract. Beyond the cap the blob is cut
// at a fragment boundary and marked with the TRUNCATED sentinel.
const maxBlobChars = 48000

// Hasher computes the upload-time digests. Hashes are exchanged with
// the tracker at upload and never verified on download.
type Hasher struct {
	fs afero.Fs
}

func NewHasher(fs afero.Fs) *Hasher {
	return &Hasher{fs: fs}
}

// FileHash is the SHA-1 of the whole file, hex encoded.
func (h *Hasher) FileHash(path string) (string, error) {
	file, err := h.fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	digest := sha1.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", errors.Wrapf(err, "hash %s", path)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// PieceHashes returns the SHA-1 of each 512 KiB window, hex encoded.
// The last window is shorter when the size is not a multiple.
func (h *Hasher) PieceHashes(path string) ([]string, error) {
	file, err := h.fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	var hashes []string
	buf := make([]byte, common.PieceSize)
	for {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			hashes = append(hashes, hex.EncodeToString(sum[:]))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return hashes, nil
}

// PieceHashBlob concatenates the first 20 hex characters of every
// piece digest into the single token UPLOAD_FILE carries.
func PieceHashBlob(hashes []string) string {
	var b strings.Builder
	for _, h := range hashes {
		if b.Len()+fragmentLen > maxBlobChars {
			return b.String() + "TRUNCATED"
		}
		frag := h
		if len(frag) > fragmentLen {
			frag = frag[:fragmentLen]
		}
		b.WriteString(frag)
	}
	return b.String()
}
