package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// handlerFunc answers one request. Returning reply=false leaves it pending.
type handlerFunc func(req transport.Message) (result any, perr *transport.ErrorPayload, reply bool)

// fakeWorker serves the worker end of a pipe
type fakeWorker struct {
	ch     transport.Channel
	handle handlerFunc
	// ignoreShutdown leaves shutdown to handle instead of exiting
	ignoreShutdown bool

	mu       sync.Mutex
	requests []transport.Message
}

func (w *fakeWorker) serve() {
	for {
		data, err := w.ch.ReadMessage()
		if err != nil {
			return
		}
		req, err := transport.Decode(data)
		if err != nil {
			continue
		}
		w.mu.Lock()
		w.requests = append(w.requests, req)
		w.mu.Unlock()

		if req.Name == transport.RequestStart {
			w.send(mustResponse(req.ID, transport.StartResult{Version: "fake-1", PID: 42}))
			continue
		}
		if req.Name == transport.RequestShutdown && !w.ignoreShutdown {
			w.send(mustResponse(req.ID, struct{}{}))
			_ = w.ch.Close()
			return
		}
		result, perr, reply := w.handle(req)
		if !reply {
			continue
		}
		if perr != nil {
			w.send(transport.ErrorResponse(req.ID, perr.Code, perr.Message))
			continue
		}
		w.send(mustResponse(req.ID, result))
	}
}

func (w *fakeWorker) send(msg transport.Message) {
	data, err := transport.Encode(msg)
	if err != nil {
		return
	}
	_ = w.ch.WriteMessage(data)
}

func (w *fakeWorker) notify(name string, params any) {
	msg, err := transport.Notification(name, params)
	if err != nil {
		return
	}
	w.send(msg)
}

func (w *fakeWorker) count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, r := range w.requests {
		if r.Name == name {
			n++
		}
	}
	return n
}

func mustResponse(id uint64, result any) transport.Message {
	msg, err := transport.Response(id, result)
	if err != nil {
		panic(err)
	}
	return msg
}

func pipeLauncher(w *fakeWorker) Launcher {
	return LauncherFunc(func(ctx context.Context, info StartupInfo) (*Worker, error) {
		host, worker := transport.Pipe()
		w.ch = worker
		go w.serve()
		return &Worker{Channel: host}, nil
	})
}

// startFake returns a running session backed by handle
func startFake(t *testing.T, handle handlerFunc, opts Options) (*Session, *fakeWorker) {
	t.Helper()
	w := &fakeWorker{handle: handle}
	opts.Launcher = pipeLauncher(w)
	s := New(uuid.New(), opts)
	require.NoError(t, s.Start(context.Background(), StartupInfo{Name: "test"}, time.Second))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		if w.ch != nil {
			_ = w.ch.Close()
		}
	})
	return s, w
}

// echoHandler answers evaluate with the expression as a JSON string
func echoHandler(req transport.Message) (any, *transport.ErrorPayload, bool) {
	switch req.Name {
	case transport.RequestEvaluate:
		var p transport.EvaluateParams
		_ = transport.Unmarshal(req.Params, &p)
		if p.Expression == "stop('boom')" {
			return transport.EvaluateResult{Error: "boom"}, nil, true
		}
		raw, _ := transport.Marshal(p.Expression)
		return transport.EvaluateResult{Value: raw}, nil, true
	}
	return struct{}{}, nil, true
}
