// Package mindar runs the external image-tracking marker compiler as a
// subprocess.
package mindar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains null byte")
)

var featureLine = regexp.MustCompile(`(?im)^\s*(?:features?|feature[ _]points?)\s*[:=]\s*(\d+)\s*$`)

// defaultWaitDelay bounds how long Wait blocks on inherited pipes after the
// process has been killed.
const defaultWaitDelay = 2 * time.Second

type Compiler struct {
	binary    string
	waitDelay time.Duration
}

func NewCompiler(binary string) *Compiler {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "mindar-compiler"
	}
	return &Compiler{binary: binary, waitDelay: defaultWaitDelay}
}

func (c *Compiler) Binary() string {
	return c.binary
}

// CheckAvailable reports whether the compiler binary resolves on PATH.
func (c *Compiler) CheckAvailable() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: binary %q not found", domain.ErrCompilerUnavailable, c.binary)
	}
	return nil
}

// Compile runs `<tool> --input <in> --output <out> --max-features <n>`.
// Non-zero exits are reported through the result; only spawn failures and
// the hard timeout are returned as errors.
func (c *Compiler) Compile(ctx context.Context, req port.CompileRequest) (*port.CompileResult, error) {
	if err := validatePath(req.InputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(req.OutputPath); err != nil {
		return nil, fmt.Errorf("invalid output path: %w", err)
	}
	if req.MaxFeatures <= 0 {
		return nil, fmt.Errorf("max features must be positive, got %d", req.MaxFeatures)
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := []string{
		"--input", req.InputPath,
		"--output", req.OutputPath,
		"--max-features", strconv.Itoa(req.MaxFeatures),
	}
	cmd := exec.CommandContext(runCtx, c.binary, args...)
	cmd.WaitDelay = c.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result := &port.CompileResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	result.FeaturePoints = ParseFeatureCount(result.Stdout)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w after %s", domain.ErrCompilationTimeout, req.Timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrCompilerUnavailable, c.binary, runErr)
	}
	return result, nil
}

// ParseFeatureCount returns the last feature-point count reported in
// compiler output, or 0 when none is present.
func ParseFeatureCount(output string) int {
	matches := featureLine.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return n
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

var _ port.MarkerCompiler = (*Compiler)(nil)
