// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package fileindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// SidecarVersion is bumped whenever the sidecar layout changes. Older
// sidecars are treated as stale.
const SidecarVersion = 1

// SidecarSuffix is appended to the indexed file's path to name its sidecar.
const SidecarSuffix = ".lsidx"

// fingerprintPrefix is how much of the file's head goes into its fingerprint.
const fingerprintPrefix = 64 * 1024

// ErrStaleSidecar is returned by LoadSidecar when the sidecar does not belong
// to the file as it is now.
var ErrStaleSidecar = errors.New("stale index sidecar")

// Sidecar is the persisted form of a finished index.
type Sidecar[E Entry] struct {
	Version     int    `cbor:"1,keyasint"`
	Format      string `cbor:"2,keyasint"`
	Fingerprint uint64 `cbor:"3,keyasint"`
	Lines       int64  `cbor:"4,keyasint"`
	Entries     []E    `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("failed to create CBOR encoder: %w", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("failed to create CBOR decoder: %w", err))
	}
}

// SidecarPath names the sidecar for path.
func SidecarPath(path string) string {
	return path + SidecarSuffix
}

// Fingerprint identifies the current contents of a file cheaply: its size,
// modification time and the first 64KiB.
func Fingerprint(r io.ReaderAt, size int64, modTime time.Time) (uint64, error) {
	h := xxhash.New()
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(size))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(modTime.UnixNano()))
	_, _ = h.Write(hdr[:])

	n := min(size, fingerprintPrefix)
	if n > 0 {
		buf := make([]byte, n)
		if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("fingerprint read: %w", err)
		}
		_, _ = h.Write(buf)
	}
	return h.Sum64(), nil
}

// SaveSidecar writes sc to path atomically (temp file then rename). The
// version is filled in.
func SaveSidecar[E Entry](path string, sc Sidecar[E]) error {
	sc.Version = SidecarVersion
	data, err := encMode.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename sidecar: %w", err)
	}
	return nil
}

// LoadSidecar reads a sidecar back. It returns ErrStaleSidecar if the version,
// format or fingerprint do not match, and an error wrapping os.ErrNotExist if
// there is no sidecar.
func LoadSidecar[E Entry](path, format string, fingerprint uint64) (Sidecar[E], error) {
	var sc Sidecar[E]
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := decMode.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("decode sidecar: %w", err)
	}
	switch {
	case sc.Version != SidecarVersion:
		return sc, fmt.Errorf("%w: version %d", ErrStaleSidecar, sc.Version)
	case sc.Format != format:
		return sc, fmt.Errorf("%w: format %q", ErrStaleSidecar, sc.Format)
	case sc.Fingerprint != fingerprint:
		return sc, fmt.Errorf("%w: fingerprint mismatch", ErrStaleSidecar)
	}
	return sc, nil
}
