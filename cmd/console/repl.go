package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/GriffinCanCode/rhost/internal/debugger/property"
	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/worker"
	"github.com/dop251/goja/parser"
	"github.com/google/uuid"
	"github.com/peterh/liner"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 5 * time.Second
	contPrompt   = "+ "
)

type consoleOptions struct {
	connect     string
	workDir     string
	history     string
	breakpoints string
	trace       bool
}

type console struct {
	s      *session.Session
	tracer *debugger.Tracer
	out    io.Writer
	prompt string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func runConsole(ctx context.Context, opts consoleOptions) error {
	var launcher session.Launcher
	if opts.connect != "" {
		launcher = &session.DialLauncher{URL: opts.connect}
	} else {
		launcher = worker.Embedded(worker.Options{WorkingDirectory: opts.workDir})
	}

	s := session.New(uuid.New(), session.Options{Launcher: launcher})
	if err := s.Start(ctx, session.StartupInfo{Name: "console", WorkingDirectory: opts.workDir}, startTimeout); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	c := &console{s: s, out: os.Stdout, prompt: "> "}
	s.OnOutput(func(text string, stderr bool) {
		// stdout arrives with the interaction reply
		if stderr {
			fmt.Fprint(os.Stderr, errorStyle.Render(text))
		}
	})

	if opts.trace {
		var store debugger.Store = debugger.NewMemoryStore()
		if opts.breakpoints != "" {
			store = debugger.NewFileStore(opts.breakpoints)
		}
		t, err := debugger.Attach(ctx, s, debugger.Options{Store: store})
		if err != nil {
			return err
		}
		t.OnBrowse(c.onBrowse)
		c.tracer = t
	}

	fmt.Fprintln(c.out, bannerStyle.Render(fmt.Sprintf("rhost console\n%s\n:help for commands", s.Version())))
	return c.loop(ctx, opts.history)
}

func (c *console) loop(ctx context.Context, history string) error {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, history)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	// Ctrl-C while code runs cancels the interaction; at the prompt liner
	// reports it as an aborted line
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			c.mu.Lock()
			if c.cancel != nil {
				c.cancel()
			}
			c.mu.Unlock()
		}
	}()

	for {
		code, ok := c.read(ln)
		if !ok {
			fmt.Fprintln(c.out)
			return nil
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			quit, err := c.command(ctx, trimmed)
			if err != nil {
				fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}
		c.interact(ctx, code)
	}
}

// read collects one complete input, prompting for continuation lines while
// the source ends mid-statement
func (c *console) read(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := c.prompt
		if b.Len() > 0 {
			prompt = contPrompt
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

func incomplete(src string) bool {
	_, err := parser.ParseFile(nil, "", src, 0)
	return err != nil && strings.Contains(err.Error(), "Unexpected end of input")
}

// cancellable returns a context cancelled by Ctrl-C
func (c *console) cancellable(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}
}

func (c *console) interact(ctx context.Context, code string) {
	ctx, done := c.cancellable(ctx)
	defer done()

	res, err := c.s.Interact(ctx, code)
	c.show(res, err)
}

// show prints an interaction outcome and adopts its prompt
func (c *console) show(res *session.Interaction, err error) {
	if err != nil {
		if errors.Is(err, session.ErrCancelled) {
			fmt.Fprintln(c.out, dimStyle.Render("interrupted"))
			return
		}
		fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
		return
	}
	fmt.Fprint(c.out, res.Output)
	if res.Error != "" {
		fmt.Fprintln(c.out, errorStyle.Render("Error: "+res.Error))
	}
	if res.Prompt != "" {
		c.prompt = res.Prompt
	}
}

func (c *console) onBrowse(ev debugger.BrowseEvent) {
	head := "stopped: " + ev.Reason
	if ev.Breakpoint != "" {
		head += " at " + ev.Breakpoint
	}
	fmt.Fprintln(c.out, stopStyle.Render(head))
	if len(ev.Frames) > 0 && ev.Frames[0].Call != "" {
		fmt.Fprintln(c.out, dimStyle.Render("Called from: "+ev.Frames[0].Call))
	}
}

const helpText = `:break FN        stop when FN is called
:clear FN        remove the breakpoint on FN
:breakpoints     list breakpoints
:where           show the stack of the current stop
:vars [N]        variables of frame N (default 0)
:inspect EXPR    members of EXPR's value
:step into|over|out, :continue
:cd DIR          change the working directory
:quit`

// command runs a console command and reports whether to exit
func (c *console) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	arg := strings.TrimSpace(strings.TrimPrefix(line, name))

	switch name {
	case ":quit", ":q":
		return true, nil
	case ":help":
		fmt.Fprintln(c.out, helpText)
	case ":cd":
		return false, c.s.Execute(ctx, "setwd("+strconv.Quote(arg)+")")
	case ":inspect":
		r, err := c.s.Describe(ctx, arg, session.DescribeOptions{Properties: inspect.AllProperties})
		if err != nil {
			return false, err
		}
		return false, c.printChildren(ctx, property.New(r, false))
	case ":break", ":clear", ":breakpoints", ":where", ":vars", ":step", ":continue":
		if c.tracer == nil {
			return false, errors.New("debugger not attached; start with --trace")
		}
		return false, c.debug(ctx, name, args)
	default:
		return false, fmt.Errorf("unknown command %s; try :help", name)
	}
	return false, nil
}

func (c *console) debug(ctx context.Context, name string, args []string) error {
	t := c.tracer
	switch name {
	case ":break":
		if len(args) != 1 {
			return errors.New("usage: :break FN")
		}
		bp, err := t.SetBreakpoint(ctx, debugger.Location{Function: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "breakpoint %s on %s\n", bp.ID, bp.Location)
	case ":clear":
		if len(args) != 1 {
			return errors.New("usage: :clear FN")
		}
		return t.ClearBreakpoint(ctx, debugger.Location{Function: args[0]})
	case ":breakpoints":
		for _, bp := range t.Breakpoints() {
			note := ""
			if !bp.Verified {
				note = dimStyle.Render(" (unverified: " + bp.Message + ")")
			}
			fmt.Fprintf(c.out, "%s %s%s\n", dimStyle.Render(bp.ID.String()), bp.Location, note)
		}
	case ":where":
		frames := t.Frames()
		if len(frames) == 0 {
			return debugger.ErrNotStopped
		}
		for _, f := range frames {
			fmt.Fprintf(c.out, "%d: %s %s\n", f.Index, nameStyle.Render(f.FunctionName), dimStyle.Render(f.Call))
		}
	case ":vars":
		frames := t.Frames()
		if len(frames) == 0 {
			return debugger.ErrNotStopped
		}
		n := 0
		if len(args) > 0 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil || n < 0 || n >= len(frames) {
				return fmt.Errorf("no frame %s", args[0])
			}
		}
		vars, err := frames[n].Variables(ctx)
		if err != nil {
			return err
		}
		for _, v := range vars {
			c.printRecord(property.New(v, false).Info(property.AllFields))
		}
	case ":step", ":continue":
		ctx, done := c.cancellable(ctx)
		defer done()
		var (
			res *session.Interaction
			err error
		)
		mode := ""
		if len(args) > 0 {
			mode = args[0]
		}
		switch {
		case name == ":continue":
			res, err = t.Continue(ctx)
		case mode == "into":
			res, err = t.StepInto(ctx)
		case mode == "over", mode == "":
			res, err = t.StepOver(ctx)
		case mode == "out":
			res, err = t.StepOut(ctx)
		default:
			return errors.New("usage: :step into|over|out")
		}
		c.show(res, err)
	}
	return nil
}

func (c *console) printChildren(ctx context.Context, item *property.Item) error {
	kids, err := item.Children(ctx)
	if err != nil {
		return err
	}
	if len(kids) == 0 {
		c.printRecord(item.Info(property.AllFields))
		return nil
	}
	for _, kid := range kids {
		c.printRecord(kid.Info(property.AllFields))
	}
	return nil
}

func (c *console) printRecord(rec property.Record) {
	fmt.Fprintf(c.out, "%s %s %s\n", nameStyle.Render(rec.Name), dimStyle.Render(rec.Type), rec.Value)
}
