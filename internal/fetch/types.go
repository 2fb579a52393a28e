package fetch

import (
	"strings"

	"github.com/ytget/clipqueue/internal/model"
)

// ToolResult is the outcome of one tool run
type ToolResult struct {
	Success  bool
	Output   string
	ExitCode int
}

// ProgressUpdate is a transfer progress sample from the video tool
type ProgressUpdate struct {
	Fraction float64
	Bytes    int64
	Total    int64
}

// VideoRequest describes one video tool invocation
type VideoRequest struct {
	URL        string
	OutputDir  string
	Credential string
	AudioOnly  bool
	// Instagram switches to the multi-item template and tolerates posts
	// without video formats
	Instagram bool
	Policy    model.DuplicatePolicy
	// Progress receives transfer samples; may be nil
	Progress func(ProgressUpdate)
}

// ImageRequest describes one image tool invocation
type ImageRequest struct {
	URL        string
	OutputDir  string
	Credential string
}

func joinOutput(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimRight(p, "\n")
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p)
	}
	return b.String()
}
