package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/creack/pty"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Launcher produces a connected worker
type Launcher interface {
	Launch(ctx context.Context, info StartupInfo) (*Worker, error)
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context, info StartupInfo) (*Worker, error)

func (f LauncherFunc) Launch(ctx context.Context, info StartupInfo) (*Worker, error) {
	return f(ctx, info)
}

// Process is a worker process owned by the host
type Process interface {
	// Kill terminates the process forcibly
	Kill() error
	// Done is closed when the process has exited
	Done() <-chan struct{}
	// Console returns the tail of the process console output
	Console() string
}

// Worker is a launched worker. Process is nil for workers the host does not own.
type Worker struct {
	Channel transport.Channel
	PID     int
	Process Process
}

func (w *Worker) kill() {
	if w == nil || w.Process == nil {
		return
	}
	_ = w.Process.Kill()
}

// DialLauncher connects to a worker that is already running
type DialLauncher struct {
	// URL is the worker websocket endpoint, e.g. ws://127.0.0.1:8701/worker
	URL string
}

func (l *DialLauncher) Launch(ctx context.Context, _ StartupInfo) (*Worker, error) {
	ch, err := transport.Dial(ctx, l.URL)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", l.URL, err)
	}
	return &Worker{Channel: ch}, nil
}

// ProcessLauncher starts a worker binary on a pseudo terminal, waits for
// its readiness endpoint and connects to it
type ProcessLauncher struct {
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Logger *zap.Logger
}

func (l *ProcessLauncher) Launch(ctx context.Context, info StartupInfo) (*Worker, error) {
	logger := logging.OrNop(l.Logger)

	addr, err := freeAddress()
	if err != nil {
		return nil, fmt.Errorf("reserve worker port: %w", err)
	}

	args := append(append([]string{}, l.Args...), "--listen", addr)
	cmd := exec.Command(l.Path, args...)
	cmd.Dir = l.Dir
	if info.WorkingDirectory != "" {
		cmd.Dir = info.WorkingDirectory
	}
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, "TERM=dumb")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("start worker %s: %w", l.Path, err)
	}

	proc := &ptyProcess{
		cmd:     cmd,
		ptmx:    ptmx,
		console: newRing(16 << 10),
		done:    make(chan struct{}),
	}
	go proc.readOutput(logger)
	go proc.monitor()

	worker := &Worker{PID: cmd.Process.Pid, Process: proc}

	if err := waitReady(ctx, "http://"+addr+"/ready", proc.done, logger); err != nil {
		_ = proc.Kill()
		return worker, err
	}

	ch, err := transport.Dial(ctx, "ws://"+addr+"/worker")
	if err != nil {
		_ = proc.Kill()
		return worker, fmt.Errorf("dial worker: %w", err)
	}
	worker.Channel = ch

	logger.Debug("worker launched", zap.Int("pid", worker.PID), zap.String("addr", addr))
	return worker, nil
}

func freeAddress() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

// waitReady polls url until it answers 200, the process exits, or ctx ends
func waitReady(ctx context.Context, url string, exited <-chan struct{}, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	client := retryablehttp.NewClient()
	client.RetryMax = 1000
	client.RetryWaitMin = 20 * time.Millisecond
	client.RetryWaitMax = 250 * time.Millisecond
	client.Logger = leveledLogger{logger.Sugar()}
	client.HTTPClient.Timeout = 2 * time.Second

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		select {
		case <-exited:
			return errors.New("worker exited before becoming ready")
		default:
		}
		return fmt.Errorf("worker not ready: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker not ready: status %d", resp.StatusCode)
	}
	return nil
}

// leveledLogger routes retryablehttp logging to zap at debug level
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }

type ptyProcess struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	console *ring
	done    chan struct{}
}

func (p *ptyProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *ptyProcess) Done() <-chan struct{} { return p.done }

func (p *ptyProcess) Console() string { return string(p.console.ReadAll()) }

// readOutput copies the worker console into the ring and the log
func (p *ptyProcess) readOutput(logger *zap.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			_, _ = p.console.Write(buf[:n])
			logger.Debug("worker console", zap.ByteString("output", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (p *ptyProcess) monitor() {
	_ = p.cmd.Wait()
	_ = p.ptmx.Close()
	close(p.done)
}

// ring is a thread-safe circular buffer holding the last size bytes written
type ring struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	full bool
}

func newRing(size int) *ring {
	return &ring{data: make([]byte, size), size: size}
}

func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range p {
		r.data[r.head] = c
		r.head = (r.head + 1) % r.size
		if r.head == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

func (r *ring) ReadAll() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]byte(nil), r.data[:r.head]...)
	}
	out := make([]byte, 0, r.size)
	out = append(out, r.data[r.head:]...)
	return append(out, r.data[:r.head]...)
}
