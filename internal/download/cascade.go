package download

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/config"
	"github.com/ytget/clipqueue/internal/fetch"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// Diagnostics reported to the user
const (
	msgNoCredentials  = "No logged-in browsers detected for cookies."
	msgGenericImage   = "Failed to fetch media. Ensure bundled tools are present and your browser is logged in."
	msgGenericVideo   = "Failed to download with available browser cookies."
	msgNotFound       = "Download not found"
	videoToolLabel    = "yt-dlp"
	imageToolLabel    = "gallery-dl"
	imageTempPattern  = "clipq-gdl-*"
	cascadeComponent  = "cascade"
	savedImagesMsg    = "Saved images"
	savedVideoMsg     = "Saved (video)"
	savedAudioMsg     = "Saved (audio)"
	noVideoInPostDiag = "yt-dlp found no video in post with browser: %s"
)

// Cascade executes a job by trying each credential profile in turn. For
// every profile it picks a strategy from the link: the video tool, the
// image tool, or the video tool with an image fallback for Instagram posts.
type Cascade struct {
	settings config.Provider
	video    VideoFetcher
	images   ImageFetcher
	creds    CredentialSource
	notifier Notifier
	logger   zerolog.Logger

	// tempDir is the parent of image tool work dirs; empty means os.TempDir
	tempDir string
}

// NewCascade creates a cascade. notifier may be nil.
func NewCascade(settings config.Provider, video VideoFetcher, images ImageFetcher, creds CredentialSource, notifier Notifier, logger zerolog.Logger) *Cascade {
	return &Cascade{
		settings: settings,
		video:    video,
		images:   images,
		creds:    creds,
		notifier: notifier,
		logger:   logger.With().Str("component", cascadeComponent).Logger(),
	}
}

// WithTempDir sets the parent directory for image tool work dirs
func (c *Cascade) WithTempDir(dir string) *Cascade {
	c.tempDir = dir
	return c
}

// execution is the resolved input of one Execute call
type execution struct {
	job    *model.Job
	link   string
	dest   string
	audio  bool
	policy model.DuplicatePolicy
}

// Execute implements Executor. A canceled context yields an outcome whose
// Err is the context error and which carries no diagnostic.
func (c *Cascade) Execute(ctx context.Context, job *model.Job, ov model.Overrides) model.Outcome {
	s, err := c.settings.Load()
	if err != nil {
		return failed(fmt.Errorf("%w: %v", model.ErrConfig, err), "Failed to load settings: "+err.Error())
	}

	link, markerAudio, markerFlat := platform.StripLegacyMarkers(job.Link)
	if platform.IsInstagram(link) {
		link = platform.StripQuery(link)
	}

	x := &execution{
		job:    job,
		link:   link,
		audio:  wantsAudio(job, ov, &s) || markerAudio,
		policy: s.OnDuplicate,
	}
	site := platform.InferSite(link)
	x.dest = platform.DestinationDir(s.DownloadDir, site, job.Origin, job.Handle, ov.FlatDestination || markerFlat)
	if err := platform.CreateDirectoryIfNotExists(x.dest); err != nil {
		return failed(fmt.Errorf("%w: %v", model.ErrConfig, err), "Failed to create download dir: "+err.Error())
	}

	profiles := c.creds.Profiles(ctx)
	if len(profiles) == 0 {
		return failed(model.ErrNoCredentials, msgNoCredentials)
	}

	log := c.logger.With().Str("job", job.ID).Str("link", link).Logger()
	var lastDiag string
	var lastErr error
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		c.message(job.ID, fmt.Sprintf("Trying %s cookies; dest=%s", p.Label, x.dest))

		out := c.attempt(ctx, x, p)
		if out.Success {
			log.Info().Str("profile", p.Label).Str("path", out.Path).Msg("job fetched")
			return out
		}
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		log.Debug().Str("profile", p.Label).Err(out.Err).Msg("attempt failed")
		if out.Diagnostic != "" {
			lastDiag = out.Diagnostic
		}
		if out.Err != nil {
			lastErr = out.Err
		}
	}

	if lastErr == nil {
		lastErr = model.ErrToolFailure
	}
	if lastDiag == "" {
		lastDiag = msgGenericVideo
		if platform.IsInstagram(link) || platform.IsTikTokPhoto(link) {
			lastDiag = msgGenericImage
		}
	}
	return failed(lastErr, lastDiag)
}

// attempt runs the strategy the link calls for with one profile
func (c *Cascade) attempt(ctx context.Context, x *execution, p model.CredentialProfile) model.Outcome {
	switch {
	case platform.IsInstagram(x.link):
		out := c.fetchVideo(ctx, x, p)
		if out.Success || ctx.Err() != nil || !platform.IsInstagramPost(x.link) {
			return out
		}
		return c.fetchImages(ctx, x, p)
	case platform.IsPinterest(x.link), platform.IsTikTokPhoto(x.link):
		return c.fetchImages(ctx, x, p)
	default:
		return c.fetchVideo(ctx, x, p)
	}
}

func (c *Cascade) fetchVideo(ctx context.Context, x *execution, p model.CredentialProfile) model.Outcome {
	id := x.job.ID
	res, err := c.video.FetchVideo(ctx, fetch.VideoRequest{
		URL:        x.link,
		OutputDir:  x.dest,
		Credential: p.Argument,
		AudioOnly:  x.audio,
		Instagram:  platform.IsInstagram(x.link),
		Policy:     x.policy,
		Progress: func(u fetch.ProgressUpdate) {
			c.notify(model.Progress(id, u.Fraction, u.Bytes, u.Total))
		},
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return canceled(ctxErr)
	}
	if err != nil || !res.Success {
		if err == nil {
			err = model.ErrToolFailure
		}
		diag := err.Error()
		if res.Output != "" {
			diag = fmt.Sprintf("%s failed with browser: %s\noutput:\n%s", videoToolLabel, p.Label, res.Output)
		}
		return failed(err, diag)
	}

	path := platform.FirstPath(platform.ParseOutput(res.Output, x.link, x.dest))
	if path != "" {
		if found, err := platform.FindFileWithFallback(path); err == nil {
			path = found
		}
	}
	if path == "" && platform.IsInstagramPost(x.link) {
		// Image-only posts succeed without producing a file
		return failed(model.ErrToolFailure, fmt.Sprintf(noVideoInPostDiag, p.Label))
	}

	if x.audio {
		c.message(id, savedAudioMsg)
	} else {
		c.message(id, savedVideoMsg)
	}
	return model.Outcome{Success: true, Path: path}
}

func (c *Cascade) fetchImages(ctx context.Context, x *execution, p model.CredentialProfile) model.Outcome {
	id := x.job.ID
	tmp, err := os.MkdirTemp(c.tempDir, imageTempPattern)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", model.ErrConfig, err), "Failed to create temp dir: "+err.Error())
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			c.logger.Warn().Err(err).Str("dir", tmp).Msg("failed to remove temp dir")
		}
	}()

	res, err := c.images.FetchImages(ctx, fetch.ImageRequest{
		URL:        x.link,
		OutputDir:  tmp,
		Credential: p.Argument,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return canceled(ctxErr)
	}
	if err != nil || !res.Success {
		if err == nil {
			err = model.ErrToolFailure
		}
		return failed(err, fmt.Sprintf("%s failed with browser: %s\n%s", imageToolLabel, p.Label, res.Output))
	}

	placed := platform.PlaceTree(tmp, x.dest, x.policy, func(msg string) {
		c.message(id, msg)
	})
	if len(placed) == 0 {
		return failed(model.ErrPlacement, "No files moved from "+tmp)
	}
	c.message(id, savedImagesMsg)
	return model.Outcome{Success: true, Path: placed[0]}
}

func (c *Cascade) message(id, text string) {
	c.notify(model.Message(id, text))
}

func (c *Cascade) notify(ev model.Event) {
	if c.notifier != nil {
		c.notifier.Notify(ev)
	}
}

// wantsAudio applies override > job preference > settings default
func wantsAudio(job *model.Job, ov model.Overrides, s *config.Settings) bool {
	if ov.ForceAudio != nil {
		return *ov.ForceAudio
	}
	if pref := job.OutputFormat.WantsAudio(); pref != nil {
		return *pref
	}
	return s.DefaultAudio()
}

func failed(err error, diag string) model.Outcome {
	return model.Outcome{Err: err, Diagnostic: diag}
}

func canceled(err error) model.Outcome {
	return model.Outcome{Err: err}
}

// isCanceled reports whether an outcome belongs to an aborted run
func isCanceled(out model.Outcome) bool {
	return errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded)
}
