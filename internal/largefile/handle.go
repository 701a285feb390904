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

package largefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cardinalhq/lineseek/internal/inflate"
	"github.com/cardinalhq/lineseek/internal/syncx"
)

// gzipProbeSize is the fixed part of a gzip member header.
const gzipProbeSize = 10

// Handle is the one OS file a dispatcher reads through. Every ReadAt is a
// seek followed by a read on the shared descriptor, serialized by the
// dispatcher's HandleLock.
type Handle struct {
	f       *os.File
	lock    *syncx.HandleLock
	path    string
	size    int64
	modTime time.Time
}

var _ io.ReaderAt = (*Handle)(nil)

func openHandle(path string, lock *syncx.HandleLock) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Handle{
		f:       f,
		lock:    lock,
		path:    path,
		size:    st.Size(),
		modTime: st.ModTime(),
	}, nil
}

// ReadAt implements io.ReaderAt. A short read at the end of the file returns
// io.EOF with the bytes that were there.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, err := h.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(h.f, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

func (h *Handle) Size() int64        { return h.size }
func (h *Handle) ModTime() time.Time { return h.modTime }
func (h *Handle) Path() string       { return h.path }

func (h *Handle) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.f.Close()
}

// probeGzipHeader reads only the fixed 10 byte member header and checks the
// magic and the deflate method.
func probeGzipHeader(r io.ReaderAt) error {
	var hdr [gzipProbeSize]byte
	n, err := r.ReadAt(hdr[:], 0)
	if n < gzipProbeSize {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file shorter than a gzip header", inflate.ErrHeader)
		}
		return err
	}
	if !inflate.IsGzip(hdr[:]) {
		return fmt.Errorf("%w: bad magic % x", inflate.ErrHeader, hdr[:3])
	}
	return nil
}
