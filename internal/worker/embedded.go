package worker

import (
	"context"

	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/transport"
)

// Embedded returns a launcher that runs a fresh interpreter inside the host
// process for every launch. Sessions talk to it over an in-memory pipe.
func Embedded(opts Options) session.Launcher {
	return session.LauncherFunc(func(ctx context.Context, info session.StartupInfo) (*session.Worker, error) {
		o := opts
		if info.WorkingDirectory != "" {
			o.WorkingDirectory = info.WorkingDirectory
		}
		srv, err := NewServer(o)
		if err != nil {
			return nil, err
		}

		host, peer := transport.Pipe()
		go func() {
			srv.ServeChannel(peer)
			srv.Close()
		}()
		return &session.Worker{Channel: host}, nil
	})
}
