// Package convert turns fetched document content into text, images, and
// thumbnails using the poppler command-line tools.
package convert

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ExecRunner runs external conversion tools via exec.CommandContext. It is
// the production pipeline.Runner; tests substitute a fake.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner builds a runner that logs every invocation.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes name with args, returning captured stdout and stderr. A
// nonzero exit comes back as the *exec.ExitError alongside the output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Warn("tool failed",
			zap.String("tool", name),
			zap.Strings("args", args),
			zap.Duration("elapsed", elapsed),
			zap.ByteString("stderr", stderr.Bytes()),
			zap.Error(err))
		return stdout.Bytes(), stderr.Bytes(), err
	}
	r.logger.Debug("tool finished",
		zap.String("tool", name),
		zap.Strings("args", args),
		zap.Duration("elapsed", elapsed))
	return stdout.Bytes(), stderr.Bytes(), nil
}
