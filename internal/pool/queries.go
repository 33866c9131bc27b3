package pool

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/transport"
)

const stopTimeout = 5 * time.Second

// DefaultSync copies the working directory, library paths and the repos
// option from primary into pooled
func DefaultSync(ctx context.Context, primary, pooled *session.Session) error {
	wd, err := session.EvaluateAs[string](ctx, primary, "getwd()", session.Normal)
	if err != nil {
		return fmt.Errorf("read working directory: %w", err)
	}
	libs, err := session.EvaluateAs[[]string](ctx, primary, "libPaths()", session.Normal)
	if err != nil {
		return fmt.Errorf("read library paths: %w", err)
	}
	repos, err := primary.Evaluate(ctx, "getOption('repos')", session.Normal)
	if err != nil {
		return fmt.Errorf("read repos option: %w", err)
	}

	libsJSON, err := transport.Marshal(libs)
	if err != nil {
		return err
	}
	if libs == nil {
		libsJSON = []byte("[]")
	}
	if len(repos) == 0 {
		repos = []byte("null")
	}
	code := fmt.Sprintf("setwd(%s); libPaths(%s); options({repos: %s})", strconv.Quote(wd), libsJSON, repos)
	return pooled.Execute(ctx, code)
}

// Package is an installed package reported by a worker
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	LibPath string `json:"libpath"`
}

// InstalledPackages lists packages matching pattern using a pooled session
func (p *Pool) InstalledPackages(ctx context.Context, pattern string) ([]Package, error) {
	if pattern == "" {
		pattern = "*"
	}
	expr := "installedPackages(" + strconv.Quote(pattern) + ")"
	return Query(ctx, p, func(ctx context.Context, s *session.Session) ([]Package, error) {
		return session.EvaluateAs[[]Package](ctx, s, expr, session.Normal)
	})
}
