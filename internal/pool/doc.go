// Package pool keeps a small set of auxiliary sessions for background
// queries so they never wait behind the primary interactive session.
//
// Sessions are created lazily up to Size and reused across leases. Every
// lease is synchronized from the primary session (working directory,
// library paths, repository options) before it is handed out:
//
//	p := pool.New(pool.Options{Size: 2, Factory: factory, Primary: primary})
//	pkgs, err := p.InstalledPackages(ctx, "gg*")
package pool
