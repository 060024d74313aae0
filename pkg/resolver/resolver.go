// Package resolver provides the primitive configuration value sources used while
// materializing configuration: process environment, files and the argument vector.
//
// Precedence, defaulting and caching are the business of the config loader that calls
// into this package. The resolver only distinguishes values that are undefined and may
// safely be defaulted (env, args) from hard failures (file).
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

// Scheme identifies a configuration value source
type Scheme string

const (
	SchemeEnv  Scheme = "env"
	SchemeFile Scheme = "file"
	SchemeArgs Scheme = "args"
)

// RootMarker is the reserved leading path marker expanded against the resolver root
const RootMarker = "%kettle"

// Option configures a Resolver
type Option func(*Resolver)

// WithLookupEnv replaces the environment lookup function (os.LookupEnv by default)
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = lookup
	}
}

// WithArgs replaces the argument vector (os.Args by default)
func WithArgs(args []string) Option {
	return func(r *Resolver) {
		r.args = args
	}
}

// WithRoot sets the directory RootMarker expands to
func WithRoot(root string) Option {
	return func(r *Resolver) {
		r.root = root
	}
}

// Resolver resolves env, file and args expressions.
// A Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	lookupEnv func(string) (string, bool)
	args      []string
	root      string
}

// New creates a resolver bound to the current process
func New(opts ...Option) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
		args:      os.Args,
		root:      installRoot(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func installRoot() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}

// Env returns the value of the environment variable name and whether it is set
func (r *Resolver) Env(name string) (string, bool) {
	return r.lookupEnv(name)
}

// File returns the full text contents of the file at path.
//
// File performs a blocking read. It must only be used while configuration is being
// loaded, never on the request path.
func (r *Resolver) File(path string) (string, error) {
	resolved := r.ExpandPath(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &FileNotFoundError{Path: path, Resolved: resolved}
		}
		return "", &FileReadError{Path: resolved, Cause: err}
	}
	return string(data), nil
}

// ExpandPath expands a leading RootMarker against the resolver root.
// Paths without the marker are returned unchanged.
func (r *Resolver) ExpandPath(path string) string {
	if path == RootMarker {
		return r.root
	}
	if rest, ok := strings.CutPrefix(path, RootMarker+"/"); ok {
		return filepath.Join(r.root, filepath.FromSlash(rest))
	}
	return path
}

// Args returns a copy of the full argument vector
func (r *Resolver) Args() []string {
	out := make([]string, len(r.args))
	copy(out, r.args)
	return out
}

// Arg returns the argument at index i, or false when i is out of range
func (r *Resolver) Arg(i int) (string, bool) {
	if i < 0 || i >= len(r.args) {
		return "", false
	}
	return r.args[i], true
}

// Value is the outcome of resolving an Expression.
// Defined is false when the source has no value (unset variable, index out of range).
type Value struct {
	String  string
	List    []string
	Defined bool
}

// Expression is a scheme plus key, e.g. env:HOME, file:%kettle/secret, args:1 or args
type Expression struct {
	Scheme Scheme
	Key    string
}

func (e Expression) String() string {
	if e.Key == "" {
		return string(e.Scheme)
	}
	return string(e.Scheme) + ":" + e.Key
}

// ErrUnknownScheme is returned for expressions whose scheme is not env, file or args
var ErrUnknownScheme = errors.New("unknown resolver scheme")

// ParseExpression parses "scheme:key". The key may be omitted only for args.
func ParseExpression(s string) (Expression, error) {
	scheme, key, _ := strings.Cut(s, ":")
	expr := Expression{Scheme: Scheme(scheme), Key: key}
	switch expr.Scheme {
	case SchemeEnv, SchemeFile:
		if key == "" {
			return Expression{}, fmt.Errorf("resolver expression %q: missing key", s)
		}
	case SchemeArgs:
		if key != "" {
			if _, err := strconv.Atoi(key); err != nil {
				return Expression{}, fmt.Errorf("resolver expression %q: args index must be an integer", s)
			}
		}
	default:
		return Expression{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return expr, nil
}

// Resolve dispatches expr to the primitive for its scheme
func (r *Resolver) Resolve(expr Expression) (Value, error) {
	switch expr.Scheme {
	case SchemeEnv:
		v, ok := r.Env(expr.Key)
		return Value{String: v, Defined: ok}, nil
	case SchemeFile:
		v, err := r.File(expr.Key)
		if err != nil {
			return Value{}, err
		}
		return Value{String: v, Defined: true}, nil
	case SchemeArgs:
		if expr.Key == "" {
			return Value{List: r.Args(), Defined: true}, nil
		}
		i, err := strconv.Atoi(expr.Key)
		if err != nil {
			return Value{}, fmt.Errorf("args index %q: %w", expr.Key, err)
		}
		v, ok := r.Arg(i)
		return Value{String: v, Defined: ok}, nil
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownScheme, expr.Scheme)
	}
}

// FuncMap exposes the primitives as text/template functions named after their schemes.
// Undefined values render as the empty string so templates can default them with "or".
func (r *Resolver) FuncMap() template.FuncMap {
	return template.FuncMap{
		string(SchemeEnv): func(name string) string {
			v, _ := r.Env(name)
			return v
		},
		string(SchemeFile): r.File,
		string(SchemeArgs): func(index ...int) (any, error) {
			switch len(index) {
			case 0:
				return r.Args(), nil
			case 1:
				v, _ := r.Arg(index[0])
				return v, nil
			default:
				return nil, fmt.Errorf("args takes at most one index, got %d", len(index))
			}
		},
	}
}

var std = New()

// Env resolves name against the process environment
func Env(name string) (string, bool) { return std.Env(name) }

// File reads path using the default resolver
func File(path string) (string, error) { return std.File(path) }

// Args returns the process argument vector
func Args() []string { return std.Args() }

// Arg returns the process argument at index i
func Arg(i int) (string, bool) { return std.Arg(i) }
