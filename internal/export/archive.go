package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"path"
	"time"

	"github.com/kimhsiao/crafttrack/internal/crypto"
	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Encrypted archives are magic || salt || nonce || ciphertext of the gzip
// stream.
var encryptedMagic = []byte("CTBK\x01")

const (
	manifestName   = "manifest.json"
	tombstonesName = "tombstones.json"
	recordsDir     = "records"
	blobsDir       = "blobs"

	// maxEntryBytes bounds a single archive entry on import.
	maxEntryBytes = 64 << 20
)

func recordsEntry(kind string) string {
	return path.Join(recordsDir, kind+".json")
}

// archiveWriter builds a gzip-compressed tar in memory.
type archiveWriter struct {
	buf bytes.Buffer
	gz  *gzip.Writer
	tw  *tar.Writer
	now time.Time
}

func newArchiveWriter(now time.Time) *archiveWriter {
	w := &archiveWriter{now: now}
	w.gz = gzip.NewWriter(&w.buf)
	w.tw = tar.NewWriter(w.gz)
	return w
}

func (w *archiveWriter) add(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    int64(len(data)),
		ModTime: w.now,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return errors.Wrap(errors.ErrInternal, "write archive header", err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return errors.Wrap(errors.ErrInternal, "write archive entry", err)
	}
	return nil
}

// finish closes the archive and returns its bytes, sealed when password is
// set.
func (w *archiveWriter) finish(password string) ([]byte, error) {
	if err := w.tw.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "close tar", err)
	}
	if err := w.gz.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "close gzip", err)
	}
	if password == "" {
		return w.buf.Bytes(), nil
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.PasswordSealer(password, salt)
	if err != nil {
		return nil, err
	}
	sealed, err := sealer.SealBytes(w.buf.Bytes())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encryptedMagic)+len(salt)+len(sealed))
	out = append(out, encryptedMagic...)
	out = append(out, salt...)
	return append(out, sealed...), nil
}

// IsEncrypted reports whether data is a password-protected archive.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}

// readArchive unseals data if needed and returns every regular entry.
func readArchive(data []byte, password string) (map[string][]byte, error) {
	if IsEncrypted(data) {
		if password == "" {
			return nil, errors.New(errors.ErrValidation, "archive is encrypted; a password is required")
		}
		rest := data[len(encryptedMagic):]
		if len(rest) < crypto.SaltLength {
			return nil, errors.New(errors.ErrValidation, "archive is truncated")
		}
		sealer, err := crypto.PasswordSealer(password, rest[:crypto.SaltLength])
		if err != nil {
			return nil, err
		}
		if data, err = sealer.OpenBytes(rest[crypto.SaltLength:]); err != nil {
			return nil, errors.Wrap(errors.ErrCryptoFailed, "wrong password or damaged archive", err)
		}
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "not a backup archive", err)
	}
	defer gz.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrValidation, "read archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxEntryBytes {
			return nil, errors.Newf(errors.ErrValidation, "archive entry %s is too large", hdr.Name)
		}
		body, err := io.ReadAll(io.LimitReader(tr, maxEntryBytes))
		if err != nil {
			return nil, errors.Wrap(errors.ErrValidation, "read archive entry", err)
		}
		entries[path.Clean(hdr.Name)] = body
	}
	return entries, nil
}
