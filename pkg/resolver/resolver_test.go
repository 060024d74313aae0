package resolver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv(t *testing.T) {
	t.Setenv("KETTLE_ENV_TEST", "value")

	v, ok := Env("KETTLE_ENV_TEST")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestEnv_Unset(t *testing.T) {
	t.Setenv("KETTLE_ENV_TEST", "")
	require.NoError(t, os.Unsetenv("KETTLE_ENV_TEST"))

	v, ok := Env("KETTLE_ENV_TEST")
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	content := "héllo\nwörld\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := New().File(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFile_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New().File(path)
	require.Error(t, err)

	var nf *FileNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, err.Error(), path)
}

func TestFile_RootMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "configs", "secret"), []byte("s3cr3t"), 0o600))

	r := New(WithRoot(root))

	got, err := r.File("%kettle/configs/secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	_, err = r.File("%kettle/configs/nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "%kettle/configs/nope")
	assert.Contains(t, err.Error(), filepath.Join(root, "configs", "nope"))
}

func TestFile_Directory(t *testing.T) {
	_, err := New().File(t.TempDir())
	require.Error(t, err)

	var re *FileReadError
	assert.True(t, errors.As(err, &re))
}

func TestArgs(t *testing.T) {
	r := New(WithArgs([]string{"kettle", "serve", "--config", "a.yaml"}))

	assert.Equal(t, []string{"kettle", "serve", "--config", "a.yaml"}, r.Args())

	v, ok := r.Arg(1)
	assert.True(t, ok)
	assert.Equal(t, "serve", v)

	_, ok = r.Arg(4)
	assert.False(t, ok)
	_, ok = r.Arg(-1)
	assert.False(t, ok)
}

func TestArgs_ReturnsCopy(t *testing.T) {
	r := New(WithArgs([]string{"a", "b"}))
	args := r.Args()
	args[0] = "mutated"

	v, _ := r.Arg(0)
	assert.Equal(t, "a", v)
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		in      string
		want    Expression
		wantErr bool
	}{
		{"env:HOME", Expression{Scheme: SchemeEnv, Key: "HOME"}, false},
		{"file:%kettle/x", Expression{Scheme: SchemeFile, Key: "%kettle/x"}, false},
		{"file:C:/x", Expression{Scheme: SchemeFile, Key: "C:/x"}, false},
		{"args", Expression{Scheme: SchemeArgs}, false},
		{"args:2", Expression{Scheme: SchemeArgs, Key: "2"}, false},
		{"args:two", Expression{}, true},
		{"env", Expression{}, true},
		{"http:example", Expression{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpression(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o600))

	env := map[string]string{"NAME": "kettle"}
	r := New(
		WithLookupEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}),
		WithArgs([]string{"bin", "x"}),
	)

	v, err := r.Resolve(Expression{Scheme: SchemeEnv, Key: "NAME"})
	require.NoError(t, err)
	assert.Equal(t, Value{String: "kettle", Defined: true}, v)

	v, err = r.Resolve(Expression{Scheme: SchemeEnv, Key: "MISSING"})
	require.NoError(t, err)
	assert.False(t, v.Defined)

	v, err = r.Resolve(Expression{Scheme: SchemeFile, Key: path})
	require.NoError(t, err)
	assert.Equal(t, "contents", v.String)

	_, err = r.Resolve(Expression{Scheme: SchemeFile, Key: path + ".missing"})
	var nf *FileNotFoundError
	assert.ErrorAs(t, err, &nf)

	v, err = r.Resolve(Expression{Scheme: SchemeArgs})
	require.NoError(t, err)
	assert.Equal(t, []string{"bin", "x"}, v.List)

	v, err = r.Resolve(Expression{Scheme: SchemeArgs, Key: "9"})
	require.NoError(t, err)
	assert.False(t, v.Defined)

	_, err = r.Resolve(Expression{Scheme: "nope"})
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestFuncMap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token"), []byte("abc"), 0o600))

	r := New(
		WithLookupEnv(func(k string) (string, bool) {
			if k == "PORT" {
				return "9090", true
			}
			return "", false
		}),
		WithArgs([]string{"bin", "first"}),
		WithRoot(dir),
	)

	tmpl, err := template.New("cfg").Funcs(r.FuncMap()).Parse(
		`port: {{ env "PORT" }} host: {{ or (env "HOST") "localhost" }} token: {{ file "%kettle/token" }} arg: {{ args 1 }} n: {{ len args }}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, nil))
	assert.Equal(t, "port: 9090 host: localhost token: abc arg: first n: 2", buf.String())
}

func TestFuncMap_MissingFileFailsTemplate(t *testing.T) {
	r := New(WithRoot(t.TempDir()))
	tmpl, err := template.New("cfg").Funcs(r.FuncMap()).Parse(`{{ file "%kettle/missing" }}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, nil)
	require.Error(t, err)

	var nf *FileNotFoundError
	assert.ErrorAs(t, err, &nf)
}
