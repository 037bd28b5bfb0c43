package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/sceneindex/featureflag"
	"github.com/aukilabs/sceneindex/geometry"
	sceneindexhttp "github.com/aukilabs/sceneindex/http"
	"github.com/aukilabs/sceneindex/models"
	"github.com/aukilabs/sceneindex/sceneindex"
	"github.com/aukilabs/sceneindex/smoketest"
	swebsocket "github.com/aukilabs/sceneindex/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The sceneindex version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "sceneindex_info",
		Help:        "Scene index server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"SCENEINDEX_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"SCENEINDEX_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"SCENEINDEX_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	ServerID           string        `cli:""        env:"SCENEINDEX_SERVER_ID"            help:"The id prefixed to scene ids."`
	LogLevel           string        `cli:""        env:"SCENEINDEX_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"SCENEINDEX_LOG_INDENT"           help:"Indent logs."`
	Scene              sceneConfig   `cli:",hidden" env:"-"                               help:"Scene configuration."`
	SyncClockInterval  time.Duration `cli:",hidden" env:"SCENEINDEX_SYNC_CLOCK_INTERVAL"  help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"SCENEINDEX_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	MaxSubscriptions   int           `cli:",hidden" env:"SCENEINDEX_MAX_SUBSCRIPTIONS"    help:"The maximum number of candidate subscriptions per connection."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"SCENEINDEX_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Events             eventsConfig  `cli:",hidden" env:"-"                               help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"SCENEINDEX_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                               help:"Show version."`
	Help               bool          `cli:""        env:"-"                               help:"Show help."`
}

type sceneConfig struct {
	WorldExtent   int           `cli:",hidden" env:"SCENEINDEX_WORLD_EXTENT"   help:"The half size in meters of the cube indexed by a scene tree."`
	FrameDuration time.Duration `cli:",hidden" env:"SCENEINDEX_FRAME_DURATION" help:"The duration of a scene frame."`
	FrameBudget   int           `cli:",hidden" env:"SCENEINDEX_FRAME_BUDGET"   help:"The maximum number of moved objects reinserted per frame."`
	SettleDelay   time.Duration `cli:",hidden" env:"SCENEINDEX_SETTLE_DELAY"   help:"The time a moved object must stay still before being reinserted."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"SCENEINDEX_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"SCENEINDEX_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"SCENEINDEX_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"SCENEINDEX_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:           ":4000",
		AdminAddr:      ":18190",
		PublicEndpoint: "http://localhost:4000",
		ServerID:       "0",
		LogLevel:       logs.InfoLevel.String(),
		Scene: sceneConfig{
			WorldExtent:   1024,
			FrameDuration: time.Millisecond * 15,
			FrameBudget:   sceneindex.DefaultFrameBudget,
		},
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		MaxSubscriptions:   swebsocket.DefaultMaxSubscriptions,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the scene index server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "sceneindex",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	sceneConf := newSceneConfig(conf.Scene, featureFlags)

	scenes := models.SceneStore{
		ServerID: conf.ServerID,
	}

	var service http.ServeMux

	service.Handle("/health", sceneindexhttp.HandleWithCORS(http.HandlerFunc(sceneindexhttp.HandleHealthCheck)))
	service.Handle("/version", sceneindexhttp.HandleWithCORS(http.HandlerFunc(sceneindexhttp.HandleVersion(version))))

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}
	service.Handle("/ready", sceneindexhttp.HandleWithCORS(http.HandlerFunc(sceneindexhttp.HandleReadyCheck(readinessCheck))))

	var api http.ServeMux
	sceneAPI := sceneindexhttp.SceneAPI{
		Scenes:      &scenes,
		SceneConfig: sceneConf,
	}
	sceneAPI.Register(&api)
	service.Handle("/scenes", sceneindexhttp.HandleWithCORS(&api))
	service.Handle("/scenes/", sceneindexhttp.HandleWithCORS(&api))

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("sceneindex %s", version),
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("success", res.Success).
				WithTag("latency_ms", res.LatencyMilliSec).
				Info("smoke test completed")
			return nil
		},
	}))

	service.Handle(smoketest.WebsocketPath, sceneindexhttp.HandleWithCORS(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h swebsocket.Handler = &swebsocket.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				Scenes:                  &scenes,
				SceneConfig:             sceneConf,
				MaxSubscriptions:        conf.MaxSubscriptions,
				FeatureFlags:            featureFlags,
			}
			h = swebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = swebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			swebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", sceneindexhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", sceneindexhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", conf.ServerID).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting sceneindex server")

	sceneindexhttp.ListenAndServe(ctx, sceneindexhttp.DefaultShutdownTimeout,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			sceneindexhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	for _, s := range scenes.List() {
		scenes.Remove(context.Background(), s)
	}
}

// newSceneConfig returns the configuration of the scenes created by clients.
func newSceneConfig(conf sceneConfig, flags featureflag.FeatureFlag) models.SceneConfig {
	extent := float32(conf.WorldExtent)

	return models.SceneConfig{
		Bounds: geometry.NewAABB(
			geometry.NewVector3f(-extent, -extent, -extent),
			geometry.NewVector3f(extent, extent, extent),
		),
		FrameDuration:           conf.FrameDuration,
		FrameBudget:             conf.FrameBudget,
		SettleDelay:             conf.SettleDelay,
		ImmediateReindex:        flags.IsSet(featureflag.FlagDisableDeferredReindex),
		DisableFrameMaintenance: flags.IsSet(featureflag.FlagDisableFrameMaintenance),
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.Scene.WorldExtent <= 0 {
		return errors.New("world extent must be positive").
			WithTag("world_extent", conf.Scene.WorldExtent)
	}

	if conf.Scene.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.Scene.FrameDuration)
	}

	if conf.Scene.FrameBudget <= 0 {
		return errors.New("frame budget must be positive").
			WithTag("frame_budget", conf.Scene.FrameBudget)
	}

	return nil
}
