package mindar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successScript = `#!/bin/sh
echo "args: $@"
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift ;;
  esac
  shift
done
printf 'MINDDATA' > "$out"
echo "features: 412"
exit 0
`

func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "mindar-stub")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "valid path", path: "/tmp/portrait.jpg"},
		{name: "valid path with spaces", path: "/tmp/my portrait.jpg"},
		{name: "valid relative path", path: "portrait.jpg"},
		{name: "empty path", path: "", wantErr: ErrEmptyPath},
		{name: "null byte at start", path: "\x00/tmp/portrait.jpg", wantErr: ErrInvalidPath},
		{name: "null byte in middle", path: "/tmp/\x00portrait.jpg", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompiler_Compile_RequestValidation(t *testing.T) {
	c := NewCompiler("/bin/true")

	tests := []struct {
		name   string
		req    port.CompileRequest
		errMsg string
	}{
		{name: "empty input", req: port.CompileRequest{OutputPath: "/tmp/o.mind", MaxFeatures: 10}, errMsg: "invalid input path"},
		{name: "null byte output", req: port.CompileRequest{InputPath: "/tmp/i.jpg", OutputPath: "/tmp/\x00o.mind", MaxFeatures: 10}, errMsg: "invalid output path"},
		{name: "zero features", req: port.CompileRequest{InputPath: "/tmp/i.jpg", OutputPath: "/tmp/o.mind"}, errMsg: "max features"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCompiler_Compile_Success(t *testing.T) {
	stub := writeStub(t, successScript)
	out := filepath.Join(t.TempDir(), "targets.mind")

	result, err := NewCompiler(stub).Compile(context.Background(), port.CompileRequest{
		InputPath:   "/tmp/portrait.jpg",
		OutputPath:  out,
		MaxFeatures: 750,
		Timeout:     5 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "--input /tmp/portrait.jpg --output "+out+" --max-features 750")
	assert.Contains(t, result.Stdout, "features: 412")
	assert.Equal(t, 412, result.FeaturePoints)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "MINDDATA", string(data))
}

func TestCompiler_Compile_NonZeroExitIsNotAnError(t *testing.T) {
	stub := writeStub(t, "#!/bin/sh\necho 'unsupported image format' >&2\nexit 3\n")

	result, err := NewCompiler(stub).Compile(context.Background(), port.CompileRequest{
		InputPath:   "/tmp/portrait.jpg",
		OutputPath:  filepath.Join(t.TempDir(), "targets.mind"),
		MaxFeatures: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "unsupported image format")
}

func TestCompiler_Compile_TimeoutKillsProcess(t *testing.T) {
	stub := writeStub(t, "#!/bin/sh\nexec sleep 10\n")

	start := time.Now()
	_, err := NewCompiler(stub).Compile(context.Background(), port.CompileRequest{
		InputPath:   "/tmp/portrait.jpg",
		OutputPath:  filepath.Join(t.TempDir(), "targets.mind"),
		MaxFeatures: 100,
		Timeout:     200 * time.Millisecond,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCompilationTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second, "process must be killed, not awaited")
}

func TestCompiler_Compile_SpawnFailures(t *testing.T) {
	notExecutable := filepath.Join(t.TempDir(), "not-executable")
	require.NoError(t, os.WriteFile(notExecutable, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	for name, binary := range map[string]string{
		"missing binary":    filepath.Join(t.TempDir(), "does-not-exist"),
		"permission denied": notExecutable,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewCompiler(binary).Compile(context.Background(), port.CompileRequest{
				InputPath:   "/tmp/portrait.jpg",
				OutputPath:  "/tmp/targets.mind",
				MaxFeatures: 100,
			})
			assert.ErrorIs(t, err, domain.ErrCompilerUnavailable)
		})
	}
}

func TestCompiler_CheckAvailable(t *testing.T) {
	stub := writeStub(t, successScript)

	assert.NoError(t, NewCompiler(stub).CheckAvailable())
	assert.ErrorIs(t, NewCompiler("clearly-not-present-compiler").CheckAvailable(), domain.ErrCompilerUnavailable)
}

func TestParseFeatureCount(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{name: "simple", output: "features: 412\n", want: 412},
		{name: "feature points with equals", output: "loading\nfeature_points=87\ndone", want: 87},
		{name: "last report wins", output: "features: 10\nfeatures: 20\n", want: 20},
		{name: "case insensitive", output: "Features: 5", want: 5},
		{name: "absent", output: "compiled ok", want: 0},
		{name: "empty", output: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFeatureCount(tt.output))
		})
	}
}
