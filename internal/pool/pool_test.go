package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEmbedded(ctx context.Context, opts worker.Options) (*session.Session, error) {
	s := session.New(uuid.New(), session.Options{Launcher: worker.Embedded(opts)})
	if err := s.Start(ctx, session.StartupInfo{Name: "test"}, 5*time.Second); err != nil {
		return nil, err
	}
	return s, nil
}

func embeddedFactory(opts worker.Options) Factory {
	return func(ctx context.Context) (*session.Session, error) {
		return startEmbedded(ctx, opts)
	}
}

func newPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	if opts.Factory == nil {
		opts.Factory = embeddedFactory(worker.Options{WorkingDirectory: t.TempDir()})
	}
	p := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func TestCapacityOneBlocksSecondLease(t *testing.T) {
	p := newPool(t, Options{Size: 1})
	ctx := context.Background()

	first, err := p.Get(ctx)
	require.NoError(t, err)

	got := make(chan *Lease, 1)
	go func() {
		second, err := p.Get(ctx)
		if err == nil {
			got <- second
		}
	}()

	select {
	case <-got:
		t.Fatal("second lease granted while the pool was at capacity")
	case <-time.After(100 * time.Millisecond):
	}

	first.Release()
	select {
	case second := <-got:
		assert.Equal(t, first.Session.ID(), second.Session.ID())
		assert.NotEqual(t, first.ID, second.ID)
		second.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("second lease not granted after release")
	}

	stats := p.Stats()
	assert.Equal(t, Stats{Size: 1, Created: 1, Idle: 1, Leased: 0}, stats)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := newPool(t, Options{Size: 2})

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	assert.Equal(t, 0, p.Stats().Leased)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestGetCancelledAtCapacity(t *testing.T) {
	p := newPool(t, Options{Size: 1})

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, session.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeadSessionsAreDiscarded(t *testing.T) {
	p := newPool(t, Options{Size: 1})
	ctx := context.Background()

	lease, err := p.Get(ctx)
	require.NoError(t, err)
	dead := lease.Session.ID()
	require.NoError(t, lease.Session.Stop(ctx))
	lease.Release()
	assert.Equal(t, 0, p.Stats().Created)

	lease, err = p.Get(ctx)
	require.NoError(t, err)
	defer lease.Release()
	assert.NotEqual(t, dead, lease.Session.ID())
	assert.True(t, lease.Session.IsRunning())
}

func TestFactoryFailureFreesCapacity(t *testing.T) {
	calls := 0
	p := newPool(t, Options{Size: 1, Factory: func(ctx context.Context) (*session.Session, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no worker")
		}
		return startEmbedded(ctx, worker.Options{})
	}})

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, Stats{Size: 1}, p.Stats())

	lease, err := p.Get(context.Background())
	require.NoError(t, err)
	lease.Release()
}

func TestGetAfterClose(t *testing.T) {
	p := newPool(t, Options{Size: 1})
	require.NoError(t, p.Close(context.Background()))

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLeasesAreSyncedFromPrimary(t *testing.T) {
	ctx := context.Background()
	wd, lib := t.TempDir(), t.TempDir()

	pkgDir := filepath.Join(lib, "ggplot2")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "DESCRIPTION"), []byte("Package: ggplot2\nVersion: 3.4.0\n"), 0o644))

	primary, err := startEmbedded(ctx, worker.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = primary.Stop(context.Background()) })

	code := "setwd('" + filepath.ToSlash(wd) + "'); libPaths(['" + filepath.ToSlash(lib) + "']); options({repos: 'https://cloud.r-project.org'})"
	require.NoError(t, primary.Execute(ctx, code))

	p := newPool(t, Options{Size: 1, Primary: func() *session.Session { return primary }})

	err = p.Run(ctx, func(ctx context.Context, s *session.Session) error {
		got, err := session.EvaluateAs[string](ctx, s, "getwd()", session.Normal)
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(wd), got)

		repos, err := session.EvaluateAs[string](ctx, s, "getOption('repos')", session.Normal)
		require.NoError(t, err)
		assert.Equal(t, "https://cloud.r-project.org", repos)
		return nil
	})
	require.NoError(t, err)

	pkgs, err := p.InstalledPackages(ctx, "gg*")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, Package{Name: "ggplot2", Version: "3.4.0", LibPath: filepath.Clean(lib)}, pkgs[0])
}
