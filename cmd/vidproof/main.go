package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	vidproof "github.com/gwlsn/vidproof"
	"github.com/gwlsn/vidproof/internal/api"
	"github.com/gwlsn/vidproof/internal/browse"
	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/pipeline"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/report"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/store"
	"github.com/gwlsn/vidproof/internal/watch"
)

const defaultConfigPath = "config/vidproof.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "calibrate":
		err = runCalibrate(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "version":
		fmt.Printf("vidproof %s\n", vidproof.Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `vidproof %s - video forensic authenticity analysis

Usage:
  vidproof analyze [-config path] [-profile name] [-out dir] [-json] <video> [video...]
  vidproof calibrate [-config path] -name <profile> [-export file.yaml] <video> [video...]
  vidproof serve [-config path] [-port 8080]
  vidproof watch [-config path] [-dir path]
  vidproof version

Commands:
  analyze    Analyze evidence files and write one JSON report per file
  calibrate  Derive a PRNU threshold profile from one camera's reference videos
  serve      Run the HTTP API with a persistent analysis queue
  watch      Queue and analyze every video dropped into a folder

Environment:
  VIDPROOF_CONFIG    config file (default %s)
  VIDPROOF_DATA      overrides data_dir
  VIDPROOF_REPORTS   overrides report_dir
  VIDPROOF_EVIDENCE  overrides evidence_path

Profiles:
  "strict" is built in. Any other name refers to a calibrated profile in
  the database; a path ending in .yaml loads an exported profile.
`, vidproof.Version, defaultConfigPath)
}

// loadConfig resolves the config path, applies environment overrides and
// initializes logging.
func loadConfig(flagPath string) (*config.Config, string, error) {
	cfgPath := flagPath
	if cfgPath == "" {
		cfgPath = os.Getenv("VIDPROOF_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if v := os.Getenv("VIDPROOF_DATA"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VIDPROOF_REPORTS"); v != "" {
		cfg.ReportDir = v
	}
	if v := os.Getenv("VIDPROOF_EVIDENCE"); v != "" {
		cfg.EvidencePath = v
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

// resolveProfile finds the named threshold profile.
func resolveProfile(name string, st store.Store) (prnu.ThresholdProfile, error) {
	switch {
	case name == "" || name == prnu.ModeStrict:
		return prnu.StrictProfile(), nil
	case strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml"):
		return prnu.LoadProfile(name)
	}

	p, err := st.GetProfile(name)
	if err != nil {
		return prnu.ThresholdProfile{}, err
	}
	if p == nil {
		return prnu.ThresholdProfile{}, fmt.Errorf("unknown threshold profile %q (run 'vidproof calibrate -name %s' first)", name, name)
	}
	return *p, nil
}

func checkTools(cfg *config.Config) error {
	for _, bin := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
		if !ffmpeg.Available(bin) {
			return fmt.Errorf("%s not found", bin)
		}
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ═══════════════════════════════════════════════════════════════════
// ANALYZE
// ═══════════════════════════════════════════════════════════════════

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	profileName := fs.String("profile", "", "Threshold profile (default from config)")
	outDir := fs.String("out", "", "Report directory (default from config)")
	jsonOut := fs.Bool("json", false, "Print each report to stdout")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no input files")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.ReportDir = *outDir
	}
	if *profileName != "" {
		cfg.ThresholdProfile = *profileName
	}
	if err := checkTools(cfg); err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	profile, err := resolveProfile(cfg.ThresholdProfile, st)
	if err != nil {
		return err
	}

	analyzer, err := pipeline.NewAnalyzer(cfg, pipeline.NewTools(cfg), profile)
	if err != nil {
		return err
	}
	writer := report.NewWriter(cfg.ReportDir)

	ctx, cancel := signalContext()
	defer cancel()

	failed := 0
	for _, path := range fs.Args() {
		start := time.Now()
		r, err := analyzer.Analyze(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}

		ref, err := writer.Write(r)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: save report: %v\n", path, err)
			continue
		}
		if err := st.IndexReport(ref, r); err != nil {
			logger.Warn("Failed to index report", "report", ref.Filename, "error", err)
		}

		if *jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(r)
			continue
		}
		printSummary(r, filepath.Join(cfg.ReportDir, ref.Filename), time.Since(start))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be analyzed", failed, fs.NArg())
	}
	return nil
}

func printSummary(r *report.ForensicReport, reportPath string, elapsed time.Duration) {
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  File:         %s\n", r.File)
	if r.BasicInfo != nil {
		fmt.Printf("  Size:         %s\n", humanize.Bytes(uint64(r.BasicInfo.Size)))
		fmt.Printf("  Video:        %s %dx%d @ %.2f fps, %.1fs\n",
			r.BasicInfo.VideoCodec, r.BasicInfo.Width, r.BasicInfo.Height, r.BasicInfo.FPS, r.BasicInfo.Duration)
	}
	fmt.Printf("  Verdict:      %s (score %d/100, p=%.3f)\n", r.Tier, r.Score, r.Probability())
	if r.Fusion.Overridden != "" {
		fmt.Printf("                %s\n", r.Fusion.Overridden)
	}
	fmt.Printf("  Heuristic:    %s (%d points)\n", r.Heuristic.Tier, r.Heuristic.Score)
	if r.Verdict != nil {
		fmt.Printf("  PRNU:         %s (%s confidence, profile %s)\n", r.Verdict.Classification, r.Verdict.Confidence, r.Verdict.Profile)
	}
	for _, issue := range r.Issues {
		fmt.Printf("    - %s\n", issue)
	}
	for _, f := range r.Errors {
		fmt.Printf("  Stage error:  %s\n", stageLine(f))
	}
	fmt.Printf("  Report:       %s\n", reportPath)
	fmt.Printf("  Elapsed:      %s\n", elapsed.Round(time.Millisecond))
}

func stageLine(f *stage.Failure) string {
	if f.Message == "" {
		return fmt.Sprintf("%s (%s)", f.Stage, f.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", f.Stage, f.Reason, f.Message)
}

// ═══════════════════════════════════════════════════════════════════
// CALIBRATE
// ═══════════════════════════════════════════════════════════════════

func runCalibrate(args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Name of the profile to create (required)")
	export := fs.String("export", "", "Also write the profile to this YAML file")
	fs.Parse(args)

	if *name == "" || *name == prnu.ModeStrict {
		return errors.New("-name is required and cannot be \"strict\"")
	}
	if fs.NArg() == 0 {
		return errors.New("no reference videos")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := checkTools(cfg); err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	calibrator, err := pipeline.NewCalibrator(cfg, pipeline.NewTools(cfg))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cal, err := calibrator.Calibrate(ctx, *name, fs.Args())
	if cal != nil {
		for _, v := range cal.Videos {
			line := fmt.Sprintf("  %-40s %-22s frames=%-4d mean=%.4f std=%.4f mad=%.4f",
				filepath.Base(v.Video), v.Status, v.NumFrames, v.Mean, v.Std, v.MAD)
			if v.Error != "" {
				line += "  " + v.Error
			}
			fmt.Println(line)
		}
	}
	if err != nil {
		return err
	}

	if err := st.SaveCalibration(cal); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if *export != "" {
		if err := prnu.SaveProfile(cal.Profile, *export); err != nil {
			return fmt.Errorf("export profile: %w", err)
		}
	}

	p := cal.Profile
	fmt.Println()
	fmt.Printf("  Profile %q from %d of %d videos\n", p.Name, cal.Global.Videos, len(cal.Videos))
	fmt.Printf("    consistent: mean >= %.4f, std <= %.4f, mad <= %.4f\n", p.Consistent.MeanMin, p.Consistent.StdMax, p.Consistent.MADMax)
	fmt.Printf("    tampering:  mean <  %.4f, std >  %.4f, mad >  %.4f\n", p.Tampering.MeanMax, p.Tampering.StdMin, p.Tampering.MADMin)
	fmt.Printf("  Use it with: vidproof analyze -profile %s <video>\n", p.Name)
	return nil
}

// ═══════════════════════════════════════════════════════════════════
// SERVE / WATCH
// ═══════════════════════════════════════════════════════════════════

// service is the long-running queue shared by serve and watch.
type service struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	queue   *jobs.Queue
	pool    *jobs.WorkerPool
	prober  *ffmpeg.Prober
	tools   pipeline.Tools
	profile prnu.ThresholdProfile
}

func startService(cfg *config.Config) (*service, error) {
	if err := checkTools(cfg); err != nil {
		return nil, err
	}

	st, err := store.InitStore(cfg.DatabasePath(), cfg.ReportDir)
	if err != nil {
		return nil, err
	}

	profile, err := resolveProfile(cfg.ThresholdProfile, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	tools := pipeline.NewTools(cfg)
	analyzer, err := pipeline.NewAnalyzer(cfg, tools, profile)
	if err != nil {
		st.Close()
		return nil, err
	}

	queue, err := jobs.NewQueueWithStore(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize job queue: %w", err)
	}

	pool := jobs.NewWorkerPool(queue, analyzer, report.NewWriter(cfg.ReportDir), cfg.Workers)
	pool.SetIndexer(st)
	pool.Start()

	return &service{
		cfg:     cfg,
		store:   st,
		queue:   queue,
		pool:    pool,
		prober:  ffmpeg.NewProber(cfg.FFprobePath),
		tools:   tools,
		profile: profile,
	}, nil
}

func (s *service) Close() {
	s.pool.Stop()
	s.store.Close()
}

func (s *service) banner(extra ...string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         VIDPROOF                          ║")
	fmt.Println("║            Video forensic authenticity analysis           ║")
	versionLine := fmt.Sprintf("v%s", vidproof.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Evidence:     %s\n", s.cfg.EvidencePath)
	fmt.Printf("  Reports:      %s\n", s.cfg.ReportDir)
	fmt.Printf("  Database:     %s\n", s.store.Path())
	fmt.Printf("  Profile:      %s (%s)\n", s.profile.Name, s.profile.Mode)
	fmt.Printf("  Workers:      %d\n", s.cfg.Workers)
	fmt.Printf("  FFmpeg:       %s\n", s.cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", s.cfg.FFprobePath)
	for _, line := range extra {
		fmt.Println("  " + line)
	}

	stats := s.queue.Stats()
	if stats.Total > 0 {
		fmt.Printf("  Queue:        %d pending, %d complete, %s analyzed\n",
			stats.Pending, stats.Complete, humanize.Bytes(uint64(stats.BytesAnalyzed)))
	}
	fmt.Println()
}

func startWatcher(ctx context.Context, s *service, dir string) (<-chan error, error) {
	w, err := watch.New(dir, s.cfg.WatchSettle, s.prober, s.queue)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	port := fs.Int("port", 8080, "Port to listen on")
	fs.Parse(args)

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.EvidencePath); err != nil {
		return fmt.Errorf("evidence path: %w", err)
	}

	svc, err := startService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	calibrator, err := pipeline.NewCalibrator(cfg, svc.tools)
	if err != nil {
		return err
	}
	browser := browse.NewBrowser(svc.prober, cfg.EvidencePath, browse.NewProbeCache(cfg.ProbeCacheTTL))
	handler := api.NewHandler(browser, svc.queue, svc.pool, svc.store, calibrator, cfg, cfgPath)
	defer handler.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var extra []string
	if cfg.WatchDir != "" {
		if _, err := startWatcher(ctx, svc, cfg.WatchDir); err != nil {
			return err
		}
		extra = append(extra, fmt.Sprintf("Watching:     %s", cfg.WatchDir))
	}
	svc.banner(extra...)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("  Starting server on port %d\n\n", *port)
	logger.Info("vidproof started", "version", vidproof.Version, "workers", cfg.Workers, "port", *port, "profile", svc.profile.Name)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dir := fs.String("dir", "", "Drop folder (default watch_dir from config)")
	fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.WatchDir = *dir
	}
	if cfg.WatchDir == "" {
		return errors.New("no drop folder: set watch_dir or pass -dir")
	}

	svc, err := startService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	done, err := startWatcher(ctx, svc, cfg.WatchDir)
	if err != nil {
		return err
	}
	svc.banner(fmt.Sprintf("Watching:     %s", cfg.WatchDir))
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	return <-done
}
