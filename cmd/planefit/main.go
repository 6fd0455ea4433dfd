// Command planefit runs a headless plane fitting session against the
// synthetic depth sensor. Touches are replayed once the first frame has
// arrived; every attempt can be stored in SQLite and plotted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/planefit/internal/config"
	"github.com/banshee-data/planefit/internal/controller"
	"github.com/banshee-data/planefit/internal/db"
	"github.com/banshee-data/planefit/internal/debugviz"
	"github.com/banshee-data/planefit/internal/monitoring"
	"github.com/banshee-data/planefit/internal/sensor"
	"github.com/banshee-data/planefit/internal/version"
)

// touch is a normalized screen point, origin top-left.
type touch struct{ x, y float64 }

// touchList implements flag.Value for repeated -touch x,y flags.
type touchList []touch

func (l *touchList) String() string {
	parts := make([]string, len(*l))
	for i, t := range *l {
		parts[i] = fmt.Sprintf("%g,%g", t.x, t.y)
	}
	return strings.Join(parts, " ")
}

func (l *touchList) Set(s string) error {
	t, err := parseTouch(s)
	if err != nil {
		return err
	}
	*l = append(*l, t)
	return nil
}

func parseTouch(s string) (touch, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return touch{}, fmt.Errorf("touch %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return touch{}, fmt.Errorf("touch %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return touch{}, fmt.Errorf("touch %q: %w", s, err)
	}
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return touch{}, fmt.Errorf("touch %q: coordinates must be within [0, 1]", s)
	}
	return touch{x, y}, nil
}

type options struct {
	configPath string
	dbPath     string
	plotDir    string
	touches    touchList
	interval   time.Duration
	duration   time.Duration
	seed       int64
	debug      bool
}

func main() {
	var opts options
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&opts.configPath, "config", "", "tuning config (.json, .yaml or .yml); defaults are used when empty")
	flag.StringVar(&opts.dbPath, "db", "", "sqlite database for fit history; disabled when empty")
	flag.StringVar(&opts.plotDir, "plot-dir", "", "directory for per-fit PNG and HTML plots; disabled when empty")
	flag.Var(&opts.touches, "touch", "normalized screen point x,y to touch (repeatable, default 0.5,0.5)")
	flag.DurationVar(&opts.interval, "touch-interval", 500*time.Millisecond, "delay between touches")
	flag.DurationVar(&opts.duration, "duration", 5*time.Second, "session length")
	flag.Int64Var(&opts.seed, "seed", 1, "synthetic scene seed")
	flag.BoolVar(&opts.debug, "debug", false, "log per-frame detail such as fit diagnostics")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if len(opts.touches) == 0 {
		opts.touches = touchList{{0.5, 0.5}}
	}

	level := zapcore.InfoLevel
	if opts.debug {
		level = zapcore.DebugLevel
	}
	logger := monitoring.NewZapLogger(level)
	defer logger.Sync() //nolint:errcheck
	monitoring.UseZap(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("planefit: %v", err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) (err error) {
	tuning := config.DefaultTuningConfig()
	if opts.configPath != "" {
		if tuning, err = config.LoadTuningConfig(opts.configPath); err != nil {
			return err
		}
	}

	scene := sensor.DefaultSyntheticConfig()
	scene.Seed = opts.seed
	synthetic := sensor.NewSynthetic(scene, nil)

	deps := controller.Deps{
		Sensor:   synthetic,
		Renderer: newLogRenderer(monitoring.Or(nil), monitoring.OrDebug(nil)),
	}

	var history *db.DB
	var session db.Session
	if opts.dbPath != "" {
		if history, err = db.NewDB(opts.dbPath); err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer func() { err = multierr.Append(err, history.Close()) }()
		if session, err = history.CreateSession("synthetic", synthetic.Version(), time.Now()); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, history.EndSession(session.ID, time.Now())) }()
		deps.Recorder = db.Recorder{DB: history, SessionID: session.ID}
		monitoring.Logf("[Main] Recording fits to %s (session %s)", opts.dbPath, session.ID)
	}
	if opts.plotDir != "" {
		sink, err := debugviz.NewSink(opts.plotDir)
		if err != nil {
			return err
		}
		deps.Debug = sink
	}

	app := controller.New(tuning.ControllerConfig(), deps)
	app.SetViewport(640, 480)
	if err := app.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { err = multierr.Append(err, app.Disconnect()) }()

	sessionCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		return app.Run(gctx, tuning.GetRenderInterval())
	})
	g.Go(func() error {
		return replayTouches(gctx, app, opts.touches, opts.interval)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return summarize(out, app, history, session.ID)
}

// replayTouches waits for the first frame, then posts each touch in turn.
func replayTouches(ctx context.Context, app *controller.Application, touches []touch, interval time.Duration) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.State() < controller.StateHasFrame {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	for i, t := range touches {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		if err := app.OnTouchEvent(t.x, t.y); err != nil {
			monitoring.Logf("[Main] Touch (%.3f, %.3f) dropped: %v", t.x, t.y, err)
		}
	}
	return nil
}

func summarize(out io.Writer, app *controller.Application, history *db.DB, sessionID string) error {
	st := app.Stats()
	fmt.Fprintf(out, "frames=%d poses=%d fits=%d failed=%d dropped=%d skipped=%d\n",
		st.FramesReceived, st.PosesReceived, st.FitsSucceeded, st.FitsFailed, st.TouchesDropped, st.RenderSkipped)
	if plane, ok := app.LastPlane(); ok {
		fmt.Fprintf(out, "plane: %s\n", plane)
	} else {
		fmt.Fprintln(out, "plane: none")
	}
	if history == nil {
		return nil
	}
	fs, err := history.FitStats(sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s: %d attempts, %d ok, mean confidence %.3f, mean rmse %.4f m\n",
		sessionID, fs.Total, fs.Succeeded, fs.MeanConfidence, fs.MeanRMSE)
	for _, kind := range slices.Sorted(maps.Keys(fs.ByKind)) {
		fmt.Fprintf(out, "  %s: %d\n", kind, fs.ByKind[kind])
	}
	return nil
}
