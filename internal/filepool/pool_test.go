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

package filepool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

func writeLog(t *testing.T, dir, name string, lines int) string {
	t.Helper()
	var sb strings.Builder
	for i := range lines {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func newPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	pr := proactor.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pr.Run(context.Background())
	}()

	p, err := New(cfg, pr)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Close(context.Background()))
		pr.Stop()
		<-done
	})
	return p
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{IdleTTL: 0, MaxOpen: 1}.Validate())
	assert.Error(t, Config{IdleTTL: time.Second, MaxOpen: 0}.Validate())
}

func TestPool_GetSharesDispatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.log", 10)
	p := newPool(t, DefaultConfig())

	const callers = 8
	got := make([]*largefile.Dispatcher, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := p.Get(context.Background(), path)
			assert.NoError(t, err)
			got[i] = d
		}()
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, d := range got[1:] {
		assert.Same(t, got[0], d)
	}
	assert.Equal(t, 1, p.Len())

	again, err := p.Get(context.Background(), filepath.Join(dir, ".", "a.log"))
	require.NoError(t, err)
	assert.Same(t, got[0], again, "paths are cleaned before lookup")
}

func TestPool_GetMissingFile(t *testing.T) {
	p := newPool(t, DefaultConfig())
	_, err := p.Get(context.Background(), filepath.Join(t.TempDir(), "nope.log"))
	assert.ErrorIs(t, err, largefile.ErrOpenFailure)
	_, err = p.Get(context.Background(), "")
	assert.ErrorIs(t, err, largefile.ErrOpenFailure)
	assert.Zero(t, p.Len())
}

func TestPool_IndexTracksInFlightPaths(t *testing.T) {
	path := writeLog(t, t.TempDir(), "a.log", 50000)
	p := newPool(t, DefaultConfig())

	id, err := p.Index(context.Background(), path, false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(p.Indexing()) == 0 }, 10*time.Second, 5*time.Millisecond)
	d, err := p.Get(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, d.Stats().Indexed)
	assert.Equal(t, int64(50000), d.Stats().Lines)

	id, err = p.Index(context.Background(), path, false)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, p.Indexing())

	files := p.Files()
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)
	assert.False(t, files[0].Indexing)
	assert.True(t, files[0].Stats.Indexed)
}

func TestPool_IdleFilesAreClosed(t *testing.T) {
	path := writeLog(t, t.TempDir(), "a.log", 10)
	p := newPool(t, Config{IdleTTL: 50 * time.Millisecond, MaxOpen: 4})

	d, err := p.Get(context.Background(), path)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return p.Len() == 0 && d.State() == largefile.StateClosed
	}, 5*time.Second, 10*time.Millisecond)

	reopened, err := p.Get(context.Background(), path)
	require.NoError(t, err)
	assert.NotSame(t, d, reopened)
}

func TestPool_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	a := writeLog(t, dir, "a.log", 10)
	b := writeLog(t, dir, "b.log", 10)
	p := newPool(t, Config{IdleTTL: time.Hour, MaxOpen: 1})

	da, err := p.Get(context.Background(), a)
	require.NoError(t, err)
	_, err = p.Get(context.Background(), b)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return da.State() == largefile.StateClosed }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.Len())
}

func TestPool_EvictAndClose(t *testing.T) {
	path := writeLog(t, t.TempDir(), "a.log", 10)
	p := newPool(t, DefaultConfig())

	assert.False(t, p.Evict(path))
	d, err := p.Get(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, p.Evict(path))
	require.Eventually(t, func() bool { return d.State() == largefile.StateClosed }, 5*time.Second, 10*time.Millisecond)

	d, err = p.Get(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, largefile.StateClosed, d.State())

	_, err = p.Get(context.Background(), path)
	assert.ErrorIs(t, err, ErrClosed)
}
