package port

import (
	"context"
	"time"
)

type CompileRequest struct {
	InputPath   string
	OutputPath  string
	MaxFeatures int
	Timeout     time.Duration
}

// CompileResult is the outcome of a completed compiler run. A non-zero
// ExitCode is not an error.
type CompileResult struct {
	ExitCode      int
	Stdout        string
	Stderr        string
	Duration      time.Duration
	FeaturePoints int
}

type MarkerCompiler interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}
