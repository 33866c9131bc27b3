package worker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/dop251/goja"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// Package is one installed package found on a library path
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	LibPath string `json:"libpath"`
}

const descriptionFile = "DESCRIPTION"

// InstalledPackages scans libPaths for <lib>/<package>/DESCRIPTION files
// whose package name matches pattern
func InstalledPackages(libPaths []string, pattern string) ([]Package, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid package pattern %q", pattern)
	}

	var (
		mu       sync.Mutex
		packages []Package
	)
	conf := fastwalk.Config{Follow: false}

	for _, lib := range libPaths {
		lib := lib
		if _, err := os.Stat(lib); err != nil {
			continue
		}
		err := fastwalk.Walk(&conf, lib, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(lib, path)
			if relErr != nil || rel == "." {
				return nil
			}
			depth := strings.Count(rel, string(filepath.Separator))
			if d.IsDir() {
				if depth >= 1 {
					return filepath.SkipDir
				}
				return nil
			}
			if depth != 1 || d.Name() != descriptionFile {
				return nil
			}

			pkg, ok := readDescription(path)
			if !ok {
				return nil
			}
			if match, _ := doublestar.Match(pattern, pkg.Name); !match {
				return nil
			}
			pkg.LibPath = lib

			mu.Lock()
			packages = append(packages, pkg)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", lib, err)
		}
	}

	sort.Slice(packages, func(a, b int) bool {
		if packages[a].Name != packages[b].Name {
			return packages[a].Name < packages[b].Name
		}
		return packages[a].LibPath < packages[b].LibPath
	})
	return packages, nil
}

// readDescription reads the Package and Version fields of a DCF file
func readDescription(path string) (Package, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Package{}, false
	}
	defer f.Close()

	var pkg Package
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Package":
			pkg.Name = strings.TrimSpace(value)
		case "Version":
			pkg.Version = strings.TrimSpace(value)
		}
	}
	return pkg, pkg.Name != ""
}

func (i *Interpreter) installedPackagesFn(call goja.FunctionCall) goja.Value {
	pattern := "*"
	if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
		pattern = call.Argument(0).String()
	}
	pkgs, err := InstalledPackages(i.libPaths, pattern)
	if err != nil {
		i.throw("%v", err)
	}

	items := make([]any, len(pkgs))
	for k, p := range pkgs {
		obj := i.vm.NewObject()
		_ = obj.Set("name", p.Name)
		_ = obj.Set("version", p.Version)
		_ = obj.Set("libpath", p.LibPath)
		items[k] = obj
	}
	return i.vm.NewArray(items...)
}

// readSource reads a script, converting legacy encodings to UTF-8.
// Binary files are refused.
func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if mtype := mimetype.Detect(data); !isText(mtype) {
		return "", fmt.Errorf("not a text file (%s)", mtype.String())
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return string(data), nil
	}
	r, err := charset.NewReaderLabel(best.Charset, bytes.NewReader(data))
	if err != nil {
		return string(data), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode %s as %s: %w", path, best.Charset, err)
	}
	return string(decoded), nil
}

func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (i *Interpreter) source(call goja.FunctionCall) goja.Value {
	path := i.resolve(call.Argument(0).String())
	text, err := readSource(path)
	if err != nil {
		i.throw("cannot open %s: %v", path, err)
	}

	v, err := i.vm.RunScript(path, text)
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			panic(ex)
		}
		i.vm.Interrupt(err)
		return goja.Undefined()
	}
	return v
}

type savedBinding struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Source string          `json:"source,omitempty"`
}

type workspaceFile struct {
	Version  int                     `json:"version"`
	Bindings map[string]savedBinding `json:"bindings"`
}

const workspaceVersion = 1

func (i *Interpreter) saveWorkspace(call goja.FunctionCall) goja.Value {
	path := i.resolve(call.Argument(0).String())
	global := i.vm.GlobalObject()

	ws := workspaceFile{Version: workspaceVersion, Bindings: make(map[string]savedBinding)}
	for _, name := range i.userNames() {
		if _, pending := i.promises[name]; pending || i.bindings[name] {
			continue
		}
		val := global.Get(name)
		if obj, ok := val.(*goja.Object); ok {
			if orig, wrapped := i.originals[obj]; wrapped {
				ws.Bindings[name] = savedBinding{Source: orig.String()}
				continue
			}
			if _, callable := goja.AssertFunction(obj); callable {
				ws.Bindings[name] = savedBinding{Source: obj.String()}
				continue
			}
		}
		ws.Bindings[name] = savedBinding{Value: i.export(val)}
	}

	data, err := sonic.Marshal(ws)
	if err != nil {
		i.throw("encode workspace: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		i.throw("compress workspace: %v", err)
	}
	defer enc.Close()

	if err := os.WriteFile(path, enc.EncodeAll(data, nil), 0o644); err != nil {
		i.throw("write workspace: %v", err)
	}
	return i.vm.ToValue(len(ws.Bindings))
}

// decompressWorkspace accepts zstd images and gzip images written by
// external tools
func decompressWorkspace(compressed []byte) ([]byte, error) {
	if len(compressed) >= 2 && compressed[0] == 0x1f && compressed[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

func (i *Interpreter) loadWorkspace(call goja.FunctionCall) goja.Value {
	path := i.resolve(call.Argument(0).String())
	compressed, err := os.ReadFile(path)
	if err != nil {
		i.throw("read workspace: %v", err)
	}

	data, err := decompressWorkspace(compressed)
	if err != nil {
		i.throw("decompress workspace: %v", err)
	}

	var ws workspaceFile
	if err := sonic.Unmarshal(data, &ws); err != nil {
		i.throw("decode workspace: %v", err)
	}
	if ws.Version != workspaceVersion {
		i.throw("unsupported workspace version %d", ws.Version)
	}

	parse, _ := goja.AssertFunction(i.vm.Get("JSON").ToObject(i.vm).Get("parse"))
	global := i.vm.GlobalObject()

	names := make([]string, 0, len(ws.Bindings))
	for name := range ws.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := ws.Bindings[name]
		var (
			v   goja.Value
			err error
		)
		if b.Source != "" {
			v, err = i.vm.RunString("(" + b.Source + ")")
		} else {
			v, err = parse(goja.Undefined(), i.vm.ToValue(string(b.Value)))
		}
		if err != nil {
			i.throw("restore %s: %v", name, err)
		}
		_ = global.Set(name, v)
	}
	return i.stringArray(names)
}
