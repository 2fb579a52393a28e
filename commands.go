package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/clipqueue/internal/config"
	"github.com/ytget/clipqueue/internal/control"
	"github.com/ytget/clipqueue/internal/download"
	"github.com/ytget/clipqueue/internal/fetch"
	"github.com/ytget/clipqueue/internal/logging"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/notify"
	"github.com/ytget/clipqueue/internal/platform"
	"github.com/ytget/clipqueue/internal/store"
)

// app holds what every command shares once settings are loaded
type app struct {
	envFiles []string
	verbose  bool

	provider config.Provider
	settings config.Settings
	logger   zerolog.Logger

	store     store.Store
	rdb       redis.UniversalClient
	publisher *notify.RedisPublisher
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           AppName,
		Short:         "Fetch media links with yt-dlp and gallery-dl under a concurrency cap",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, ".env files to load before reading CLIPQ_* variables")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		a.addCmd(),
		a.fetchCmd(),
		a.runCmd(),
		a.enqueueCmd(),
		a.backlogCmd(),
		a.cancelCmd(),
		a.startCmd(),
		a.pauseCmd(true),
		a.pauseCmd(false),
		a.listCmd(),
		a.deleteCmd(),
		a.openCmd(),
		a.credentialsCmd(),
		a.parseCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) init() error {
	a.provider = config.EnvProvider{DotEnv: a.envFiles}
	s, err := a.provider.Load()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if a.verbose {
		s.LogLevel = zerolog.LevelDebugValue
	}
	a.settings = s
	a.logger = logging.New(s.LogLevel, s.LogPretty)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(ctx, a.settings)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.logger.Debug().Str("driver", a.settings.StoreDriver).Msg("store opened")
	return s, nil
}

// redisClient returns the client used for events and scheduler commands
func (a *app) redisClient() redis.UniversalClient {
	if a.rdb == nil {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.settings.RedisAddr,
			Password: a.settings.RedisPassword,
			DB:       a.settings.RedisDB,
		})
	}
	return a.rdb
}

func (a *app) controlChannel() string {
	if a.settings.ControlChannel != "" {
		return a.settings.ControlChannel
	}
	return config.DefaultControlChannel
}

// send publishes a command to the running scheduler
func (a *app) send(cmd *cobra.Command, c control.Command) error {
	if err := control.Publish(cmd.Context(), a.redisClient(), a.controlChannel(), c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", c.Op)
	return nil
}

// sink logs every event, publishes to Redis when a channel is configured
// and forwards to extra
func (a *app) sink(extra ...notify.Sink) notify.Sink {
	sinks := notify.Fanout{notify.NewLogSink(a.logger)}
	if a.settings.EventsChannel != "" {
		a.publisher = notify.NewRedisPublisher(a.redisClient(), a.settings.EventsChannel, a.logger)
		sinks = append(sinks, a.publisher)
	}
	return append(sinks, extra...)
}

func (a *app) newManager(jobs store.Store, provider config.Provider, sink notify.Sink) (*download.Manager, error) {
	video := fetch.NewVideoTool(a.settings.VideoTool, a.logger)
	images := fetch.NewImageTool(a.settings.ImageTool, a.logger)
	creds := platform.NewBrowserProbe(a.settings.CredentialOverride())
	cascade := download.NewCascade(provider, video, images, creds, sink, a.logger)
	return download.NewManager(jobs, cascade, provider, sink, a.logger)
}

// oneShot starts paused and skips queue recovery so only the requested job runs
type oneShot struct {
	config.Provider
}

func (p oneShot) Load() (config.Settings, error) {
	s, err := p.Provider.Load()
	s.DownloadAutomatically = false
	s.RecoverQueued = false
	return s, err
}

func (a *app) addCmd() *cobra.Command {
	var (
		origin, handle, name string
		audio, video, queue  bool
	)
	cmd := &cobra.Command{
		Use:   "add <url>...",
		Short: "Create jobs for links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			format := model.OutputDefault
			switch {
			case audio && video:
				return fmt.Errorf("--audio and --video are exclusive")
			case audio:
				format = model.OutputAudio
			case video:
				format = model.OutputVideo
			}
			status := model.StatusBacklog
			if queue {
				status = model.StatusQueued
			}

			var created []string
			for _, raw := range args {
				link := platform.SanitizeLink(raw)
				if link == "" {
					continue
				}
				job := &model.Job{
					Origin:       model.ParseOrigin(origin),
					Handle:       handle,
					Name:         name,
					Link:         link,
					OutputFormat: format,
					Status:       status,
				}
				id, err := jobs.Create(ctx, job)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				created = append(created, id)
			}
			if queue && len(created) > 0 && a.settings.ControlChannel != "" {
				err := control.Publish(ctx, a.redisClient(), a.settings.ControlChannel, control.Command{Op: control.OpEnqueue, IDs: created})
				if err != nil {
					a.logger.Info().Err(err).Msg("jobs will be picked up on the next scheduler start")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", string(model.OriginManual), "where the link was collected (profile, playlist, liked, ...)")
	cmd.Flags().StringVar(&handle, "handle", "", "account the link belongs to")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&audio, "audio", false, "fetch audio only")
	cmd.Flags().BoolVar(&video, "video", false, "fetch video even when the default is audio")
	cmd.Flags().BoolVar(&queue, "queue", false, "create the jobs as queued")
	return cmd
}

func (a *app) fetchCmd() *cobra.Command {
	var audio, video, flat bool
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one link now and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			results := notify.NewChanSink(256)
			mgr, err := a.newManager(jobs, oneShot{a.provider}, a.sink(results))
			if err != nil {
				return err
			}

			var ov model.Overrides
			if audio || video {
				ov.ForceAudio = &audio
			}
			ov.FlatDestination = flat

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error { return mgr.Run(gctx) })

			var jobID string
			var final error
			g.Go(func() error {
				defer cancel()
				id, err := mgr.DownloadURL(gctx, args[0], ov)
				if err != nil {
					final = err
					return nil
				}
				jobID = id
				final = waitForJob(gctx, cmd.OutOrStdout(), results.Events(), id)
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}
			if final != nil {
				return final
			}
			job, err := jobs.Find(context.WithoutCancel(ctx), jobID)
			if err != nil {
				return err
			}
			if job.Path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), job.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", false, "fetch audio only")
	cmd.Flags().BoolVar(&video, "video", false, "fetch video")
	cmd.Flags().BoolVar(&flat, "flat", false, "place files directly in the download dir")
	return cmd
}

// waitForJob prints messages for id until it reaches a terminal status
func waitForJob(ctx context.Context, w io.Writer, events <-chan model.Event, id string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return download.ErrClosed
			}
			if ev.JobID != id {
				continue
			}
			switch ev.Kind {
			case model.EventMessage:
				fmt.Fprintln(w, ev.Text)
			case model.EventStatusChanged:
				switch ev.Status {
				case model.StatusDone:
					return nil
				case model.StatusError:
					return fmt.Errorf("job %s failed", id)
				case model.StatusCanceled:
					return fmt.Errorf("job %s canceled", id)
				}
			}
		}
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted; SIGHUP reloads the parallel limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			mgr, err := a.newManager(jobs, a.provider, a.sink())
			if err != nil {
				return err
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return mgr.Run(gctx) })
			if channel := a.settings.ControlChannel; channel != "" {
				g.Go(func() error {
					return control.Serve(gctx, a.redisClient(), channel, mgr, a.logger)
				})
			}
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-hup:
						a.logger.Info().Msg("reloading settings")
						if err := mgr.RefreshSettings(); err != nil {
							return nil
						}
					}
				}
			})

			a.logger.Info().Str("store", a.settings.StoreDriver).Int("max_parallel", a.settings.MaxParallel).Msg("scheduler started")
			return g.Wait()
		},
	}
}

func (a *app) enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-id>...",
		Short: "Schedule jobs on the running scheduler",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, control.Command{Op: control.OpEnqueue, IDs: args})
		},
	}
}

func (a *app) backlogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backlog <job-id>...",
		Short: "Unschedule jobs on the running scheduler, aborting running ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, control.Command{Op: control.OpBacklog, IDs: args})
		},
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel jobs on the running scheduler",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, control.Command{Op: control.OpCancel, IDs: args})
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	var audio, video, flat bool
	cmd := &cobra.Command{
		Use:   "start <job-id>...",
		Short: "Start jobs now on the running scheduler, even while paused",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if audio && video {
				return fmt.Errorf("--audio and --video are exclusive")
			}
			c := control.Command{Op: control.OpStart, IDs: args}
			if audio || video || flat {
				c.Overrides = &model.Overrides{FlatDestination: flat}
				if audio || video {
					c.Overrides.ForceAudio = &audio
				}
			}
			return a.send(cmd, c)
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", false, "fetch audio only")
	cmd.Flags().BoolVar(&video, "video", false, "fetch video")
	cmd.Flags().BoolVar(&flat, "flat", false, "place files directly in the download dir")
	return cmd
}

func (a *app) pauseCmd(paused bool) *cobra.Command {
	use, short, op := "pause", "Stop dispatching new jobs; running jobs continue", control.OpPause
	if !paused {
		use, short, op = "resume", "Resume dispatching queued jobs", control.OpResume
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.send(cmd, control.Command{Op: op})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		f      filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs grouped by collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			found, err := jobs.List(ctx, f.filter())
			if err != nil {
				return err
			}
			collections := model.GroupCollections(found)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(collections)
			}
			printCollections(cmd.OutOrStdout(), collections)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printCollections(w io.Writer, collections []*model.Collection) {
	for _, c := range collections {
		counts := c.Counts()
		marker := ""
		if c.HasErrors() {
			marker = " !"
		}
		fmt.Fprintf(w, "%s / %s  %d/%d done, %d pending (%.0f%%)%s\n",
			c.Platform, c.Label(), counts[model.StatusDone], len(c.Jobs), len(c.GetPendingJobs()), c.GetProgress(), marker)
		for _, job := range c.Jobs {
			fmt.Fprintf(w, "  %s  %-11s  %s\n", job.ID, job.Status, job.GetDisplayTitle())
		}
	}
}

func (a *app) deleteCmd() *cobra.Command {
	var (
		f    filterFlags
		mode string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete jobs matching the filters; hard mode also removes fetched files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := f.filter()
			if filter == (store.Filter{}) && !all {
				return fmt.Errorf("refusing to delete every job without --all")
			}
			if mode == "" {
				mode = a.settings.DeleteMode
			}
			if mode != config.DeleteSoft && mode != config.DeleteHard {
				return fmt.Errorf("unknown delete mode %q", mode)
			}

			ctx := cmd.Context()
			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			res, err := store.DeleteJobs(ctx, jobs, filter, mode)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				a.logger.Warn().Err(e).Msg("delete")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs, removed %d files\n", res.Deleted, res.FilesRemoved)
			return errors.Join(res.Errors...)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "", "soft or hard (default from CLIPQ_DELETE_MODE)")
	cmd.Flags().BoolVar(&all, "all", false, "allow deleting without filters")
	return cmd
}

func (a *app) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <job-id>",
		Short: "Open a fetched file with the default application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			job, err := jobs.Find(ctx, args[0])
			if err != nil {
				return err
			}
			if job.Path == "" {
				return fmt.Errorf("job %s has no file (status %s)", job.ID, job.Status)
			}
			return platform.OpenFileWithDefaultApp(job.Path)
		},
	}
}

func (a *app) credentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credentials",
		Short: "List the browser cookie stores that will be tried, in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles := platform.NewBrowserProbe(a.settings.CredentialOverride()).Profiles(cmd.Context())
			if len(profiles) == 0 {
				return model.ErrNoCredentials
			}
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Label, p.Argument)
			}
			return nil
		},
	}
}

func (a *app) parseCmd() *cobra.Command {
	var link, dir string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Extract result files from a captured tool log (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(platform.ParseOutput(string(data), link, dir))
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "link the log was produced for")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory the tool wrote into")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print events published by a running scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel := a.settings.EventsChannel
			if channel == "" {
				channel = config.DefaultEventsChannel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return notify.Subscribe(ctx, a.redisClient(), channel, func(ev model.Event) {
				switch ev.Kind {
				case model.EventStatusChanged:
					fmt.Fprintf(out, "%s  %s\n", ev.JobID, ev.Status)
				case model.EventProgress:
					fmt.Fprintf(out, "%s  %.0f%%\n", ev.JobID, ev.Fraction*100)
				default:
					fmt.Fprintf(out, "%s  %s\n", ev.JobID, ev.Text)
				}
			})
		},
	}
}

// filterFlags binds store.Filter fields to command flags
type filterFlags struct {
	platform, origin, handle, link, status string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.platform, "platform", "", "youtube, tiktok, instagram, pinterest or other")
	cmd.Flags().StringVar(&f.origin, "origin", "", "collection origin")
	cmd.Flags().StringVar(&f.handle, "handle", "", "collection handle")
	cmd.Flags().StringVar(&f.link, "link", "", "link, compared after normalization")
	cmd.Flags().StringVar(&f.status, "status", "", "job status")
}

func (f *filterFlags) filter() store.Filter {
	var out store.Filter
	if v := strings.TrimSpace(f.platform); v != "" {
		out.Platform = model.ParsePlatform(v)
	}
	if v := strings.TrimSpace(f.origin); v != "" {
		out.Origin = model.ParseOrigin(v)
	}
	out.Handle = strings.TrimSpace(f.handle)
	out.Link = strings.TrimSpace(f.link)
	if v := strings.TrimSpace(f.status); v != "" {
		s := model.ParseStatus(v)
		out.Status = &s
	}
	return out
}
