package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/model"
)

// gallery-dl settings
const (
	DefaultImageTool   = "gallery-dl"
	killGracePeriod    = 2 * time.Second
	imageToolComponent = "image_tool"
)

// ImageTool runs gallery-dl as a subprocess
type ImageTool struct {
	executable string
	logger     zerolog.Logger
}

// NewImageTool creates an image tool using the given gallery-dl executable
func NewImageTool(executable string, logger zerolog.Logger) *ImageTool {
	if executable == "" {
		executable = DefaultImageTool
	}
	return &ImageTool{
		executable: executable,
		logger:     logger.With().Str("component", imageToolComponent).Logger(),
	}
}

// ImageArgs returns the gallery-dl argument list for a request, URL last
func ImageArgs(req ImageRequest) []string {
	return []string{
		"--verbose",
		"--cookies-from-browser", req.Credential,
		"-d", req.OutputDir,
		req.URL,
	}
}

// FetchImages runs gallery-dl into req.OutputDir and collects its combined
// stdout and stderr. Success means exit code zero.
func (i *ImageTool) FetchImages(ctx context.Context, req ImageRequest) (ToolResult, error) {
	args := ImageArgs(req)
	i.logger.Debug().Strs("argv", append([]string{i.executable}, args...)).Msg("running image tool")

	var output lineBuffer
	cmd := exec.CommandContext(ctx, i.executable, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Grandchildren may keep the pipes open after the tool is killed
	cmd.WaitDelay = killGracePeriod

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		return ToolResult{}, i.invocationError(fmt.Errorf("failed to start %s: %w", i.executable, err))
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ToolResult{}, ctx.Err()
	}

	out := ToolResult{
		Output:   output.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	i.logger.Debug().Int("exit_code", out.ExitCode).Str("output", out.Output).Msg("image tool finished")

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, i.invocationError(waitErr)
		}
		return out, &model.ToolError{
			Tool:   i.executable,
			Output: out.Output,
			Err:    fmt.Errorf("%w: exit code %d", model.ErrToolFailure, out.ExitCode),
		}
	}

	out.Success = true
	return out, nil
}

func (i *ImageTool) invocationError(err error) error {
	return &model.ToolError{
		Tool: i.executable,
		Err:  fmt.Errorf("%w: %v", model.ErrToolInvocation, err),
	}
}

// lineBuffer collects interleaved stdout and stderr writes
type lineBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimRight(b.buf.String(), "\n")
}
