package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/model"
)

// yt-dlp settings
const (
	DefaultVideoTool   = "yt-dlp"
	ConcurrentFrags    = 8
	VideoFormat        = "bestvideo+bestaudio/best"
	MergeFormat        = "mp4"
	VideoTemplate      = "%(uploader)s - %(title)s [%(id)s].%(ext)s"
	InstagramTemplate  = "%(uploader)s - %(title)s [%(id)s]-%(autonumber)03d.%(ext)s"
	AlreadyDownloaded  = "has already been downloaded"
	ProgressFrequency  = 500 * time.Millisecond
	videoToolComponent = "video_tool"
)

// VideoTool runs yt-dlp through go-ytdlp
type VideoTool struct {
	executable string
	logger     zerolog.Logger
}

// NewVideoTool creates a video tool using the given yt-dlp executable
func NewVideoTool(executable string, logger zerolog.Logger) *VideoTool {
	if executable == "" {
		executable = DefaultVideoTool
	}
	return &VideoTool{
		executable: executable,
		logger:     logger.With().Str("component", videoToolComponent).Logger(),
	}
}

// VideoArgs returns the yt-dlp argument list for a request, URL last
func VideoArgs(req VideoRequest) []string {
	args := []string{
		"--newline",
		"-N", strconv.Itoa(ConcurrentFrags),
		"--cookies-from-browser", req.Credential,
		"--ignore-config",
		"--no-cache-dir",
	}
	args = append(args, duplicateArgs(req.Policy)...)
	if req.Instagram {
		args = append(args, "--ignore-no-formats-error", "-o", filepath.Join(req.OutputDir, InstagramTemplate))
	} else {
		args = append(args,
			"-f", VideoFormat,
			"--merge-output-format", MergeFormat,
			"-o", filepath.Join(req.OutputDir, VideoTemplate),
		)
	}
	if req.AudioOnly {
		args = append(args, "-x")
	}
	return append(args, req.URL)
}

func duplicateArgs(policy model.DuplicatePolicy) []string {
	switch policy {
	case model.DuplicateOverwrite:
		return []string{"--force-overwrites"}
	case model.DuplicateDoNothing:
		return []string{"--no-overwrites", "--no-continue"}
	default:
		return nil
	}
}

// command builds the go-ytdlp command equivalent to VideoArgs
func (v *VideoTool) command(req VideoRequest) *ytdlp.Command {
	dl := ytdlp.New().
		SetExecutable(v.executable).
		Newline().
		ConcurrentFragments(ConcurrentFrags).
		CookiesFromBrowser(req.Credential).
		IgnoreConfig().
		NoCacheDir()

	switch req.Policy {
	case model.DuplicateOverwrite:
		dl = dl.ForceOverwrites()
	case model.DuplicateDoNothing:
		dl = dl.NoOverwrites().NoContinue()
	}

	if req.Instagram {
		dl = dl.IgnoreNoFormatsError().Output(filepath.Join(req.OutputDir, InstagramTemplate))
	} else {
		dl = dl.Format(VideoFormat).
			MergeOutputFormat(MergeFormat).
			Output(filepath.Join(req.OutputDir, VideoTemplate))
	}
	if req.AudioOnly {
		dl = dl.ExtractAudio()
	}

	if req.Progress != nil {
		dl.ProgressFunc(ProgressFrequency, func(update ytdlp.ProgressUpdate) {
			req.Progress(toProgress(update))
		})
	}
	return dl
}

// FetchVideo runs yt-dlp for one credential profile. A non-zero exit whose
// log reports the file as already downloaded still counts as success.
func (v *VideoTool) FetchVideo(ctx context.Context, req VideoRequest) (ToolResult, error) {
	v.logger.Debug().Strs("argv", append([]string{v.executable}, VideoArgs(req)...)).Msg("running video tool")

	res, err := v.command(req).Run(ctx, req.URL)
	if ctx.Err() != nil {
		return ToolResult{}, ctx.Err()
	}

	var out ToolResult
	if res != nil {
		out.Output = joinOutput(res.Stdout, res.Stderr)
		out.ExitCode = res.ExitCode
	}
	v.logger.Debug().Int("exit_code", out.ExitCode).Str("output", out.Output).Msg("video tool finished")

	if err == nil {
		out.Success = true
		return out, nil
	}
	if strings.Contains(out.Output, AlreadyDownloaded) {
		out.Success = true
		return out, nil
	}
	if res == nil {
		return out, &model.ToolError{
			Tool: v.executable,
			Err:  fmt.Errorf("%w: %v", model.ErrToolInvocation, err),
		}
	}

	return out, &model.ToolError{
		Tool:   v.executable,
		Output: out.Output,
		Err:    fmt.Errorf("%w: exit code %d: %v", model.ErrToolFailure, out.ExitCode, err),
	}
}

// toProgress converts a go-ytdlp sample
func toProgress(update ytdlp.ProgressUpdate) ProgressUpdate {
	p := ProgressUpdate{
		Bytes: int64(update.DownloadedBytes),
		Total: int64(update.TotalBytes),
	}
	if update.TotalBytes > 0 {
		p.Fraction = float64(update.DownloadedBytes) / float64(update.TotalBytes)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}
	return p
}
