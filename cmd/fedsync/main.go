package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/absmach/fedsync"
	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/chief/api"
	"github.com/absmach/fedsync/chief/middleware"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/cluster"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/mqtt"
	"github.com/absmach/fedsync/pkg/prometheus"
	"github.com/absmach/fedsync/pkg/sdk"
	"github.com/absmach/fedsync/pkg/server"
	"github.com/absmach/fedsync/pkg/session"
	"github.com/absmach/fedsync/pkg/tracing"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "fedsync"
	defHTTPPort   = "7070"
	envPrefixHTTP = "FEDSYNC_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel    string `env:"FEDSYNC_LOG_LEVEL"    envDefault:"info"`
	InstanceID  string `env:"FEDSYNC_INSTANCE_ID"`
	ClusterFile string `env:"FEDSYNC_CLUSTER_FILE"`

	TaskIndex        int      `env:"FEDSYNC_TASK_INDEX"`
	Role             string   `env:"FEDSYNC_ROLE"`
	NumWorkers       int      `env:"FEDSYNC_NUM_WORKERS"`
	Workers          []string `env:"FEDSYNC_WORKERS"            envSeparator:","`
	Address          string   `env:"FEDSYNC_ADDRESS"`
	Name             string   `env:"FEDSYNC_NAME"`
	ChiefPrivateAddr string   `env:"FEDSYNC_CHIEF_PRIVATE_ADDR"`
	ChiefPublicAddr  string   `env:"FEDSYNC_CHIEF_PUBLIC_ADDR"`
	Network          string   `env:"FEDSYNC_NETWORK"`

	IntervalSteps       int           `env:"FEDSYNC_INTERVAL_STEPS"`
	ReplicasToAggregate int           `env:"FEDSYNC_REPLICAS_TO_AGGREGATE"`
	WaitDuration        time.Duration `env:"FEDSYNC_WAIT_DURATION"`
	MergeGrace          time.Duration `env:"FEDSYNC_MERGE_GRACE"`
	StaleAfterRounds    int           `env:"FEDSYNC_STALE_AFTER_ROUNDS"`
	Aggregation         string        `env:"FEDSYNC_AGGREGATION"`
	JoinTimeout         time.Duration `env:"FEDSYNC_JOIN_TIMEOUT"`
	Linger              time.Duration `env:"FEDSYNC_LINGER"`

	CheckpointDir     string `env:"FEDSYNC_CHECKPOINT_DIR"`
	CheckpointBackend string `env:"FEDSYNC_CHECKPOINT_BACKEND"`
	CheckpointEvery   uint64 `env:"FEDSYNC_CHECKPOINT_EVERY"`
	CheckpointKeep    int    `env:"FEDSYNC_CHECKPOINT_KEEP"`
	Restore           bool   `env:"FEDSYNC_RESTORE"`

	MQTTAddress  string        `env:"FEDSYNC_MQTT_ADDRESS"`
	MQTTQoS      uint8         `env:"FEDSYNC_MQTT_QOS"      envDefault:"1"`
	MQTTTimeout  time.Duration `env:"FEDSYNC_MQTT_TIMEOUT"  envDefault:"30s"`
	MQTTUsername string        `env:"FEDSYNC_MQTT_USERNAME"`
	MQTTPassword string        `env:"FEDSYNC_MQTT_PASSWORD"`
	ChannelID    string        `env:"FEDSYNC_CHANNEL_ID"`

	OTELURL    url.URL `env:"FEDSYNC_OTEL_URL"`
	TraceRatio float64 `env:"FEDSYNC_TRACE_RATIO" envDefault:"0"`

	Steps         int     `env:"FEDSYNC_STEPS"`
	StepsPerEpoch int     `env:"FEDSYNC_STEPS_PER_EPOCH"`
	BatchSize     int     `env:"FEDSYNC_BATCH_SIZE"`
	LearningRate  float64 `env:"FEDSYNC_LEARNING_RATE"`
	Samples       int     `env:"FEDSYNC_SAMPLES"`
	Features      int     `env:"FEDSYNC_FEATURES"`
	DataSeed      uint64  `env:"FEDSYNC_DATA_SEED"`
}

func defaultConfig() envConfig {
	return envConfig{
		Role:              string(cluster.RoleChief),
		NumWorkers:        1,
		Network:           string(cluster.NetworkPrivate),
		IntervalSteps:     1,
		WaitDuration:      30 * time.Second,
		MergeGrace:        30 * time.Second,
		Aggregation:       "mean",
		JoinTimeout:       5 * time.Minute,
		Linger:            30 * time.Second,
		CheckpointBackend: string(checkpoint.BackendFile),
		CheckpointKeep:    5,
		Steps:             1000,
		StepsPerEpoch:     100,
		BatchSize:         32,
		LearningRate:      0.05,
		Samples:           6000,
		Features:          8,
		DataSeed:          1,
	}
}

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	// Configuration errors end the process before any listener or broker
	// connection exists.
	registry, err := cluster.New(cluster.Config{
		TaskIndex:        cfg.TaskIndex,
		Role:             cluster.Role(cfg.Role),
		NumWorkers:       cfg.NumWorkers,
		Workers:          cfg.Workers,
		Address:          cfg.Address,
		Name:             cfg.Name,
		ChiefPrivateAddr: cfg.ChiefPrivateAddr,
		ChiefPublicAddr:  cfg.ChiefPublicAddr,
		Network:          cluster.Network(cfg.Network),
	})
	if err == nil {
		err = validate(cfg, registry)
	}
	if err != nil {
		logger.Error("invalid cluster configuration", slog.Any("error", err))
		os.Exit(1)
	}
	self := registry.Self()
	logger = logger.With(slog.Int("task_index", self.Index), slog.String("role", string(self.Role)), slog.String("name", self.Name))

	// Deferred cleanups run before the exit code is applied.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := tracing.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))
			exitCode = 1

			return
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	var pubsub mqtt.PubSub
	if cfg.MQTTAddress != "" {
		clientID := svcName + "-" + strconv.Itoa(self.Index) + "-" + cfg.InstanceID
		pubsub, err = mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, clientID, cfg.MQTTUsername, cfg.MQTTPassword, cfg.ChannelID, cfg.MQTTTimeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))
			exitCode = 1

			return
		}
		defer func() {
			if err := pubsub.Disconnect(context.Background()); err != nil {
				logger.Warn("failed to disconnect mqtt pubsub", slog.Any("error", err))
			}
		}()
	}

	ds := newDataset(cfg.DataSeed, cfg.Samples, cfg.Features)
	trainer := session.Trainer{
		Step:          leastSquares(ds, cfg.BatchSize, cfg.LearningRate),
		Initial:       initialParams(cfg.Features),
		Sink:          session.LogSink(logger),
		StepsPerEpoch: cfg.StepsPerEpoch,
		Logger:        logger,
	}
	sessCfg := session.Config{
		Identity:      self,
		IntervalSteps: cfg.IntervalSteps,
		WaitDuration:  cfg.WaitDuration,
		JoinTimeout:   cfg.JoinTimeout,
	}

	switch {
	case registry.IsChief():
		err = runChief(ctx, cancel, g, cfg, registry, sessCfg, &trainer, pubsub, tracer, logger)
	default:
		err = runFollower(ctx, cancel, g, cfg, registry, sessCfg, &trainer, pubsub, logger)
	}
	if err != nil {
		logger.Error(fmt.Sprintf("failed to start %s", self.Role), slog.Any("error", err))
		exitCode = 1
		cancel()
	}

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
		exitCode = 1
	}
}

// validate checks every option that would otherwise fail after the process
// opened a listener, a broker connection or a checkpoint store.
func validate(cfg envConfig, registry *cluster.Registry) error {
	if cfg.ReplicasToAggregate < 0 || cfg.ReplicasToAggregate > registry.NumWorkers() {
		return fmt.Errorf("%w: replicas to aggregate %d outside 0..%d", pkgerrors.ErrConfiguration, cfg.ReplicasToAggregate, registry.NumWorkers())
	}
	if cfg.IntervalSteps < 0 {
		return fmt.Errorf("%w: interval steps must not be negative", pkgerrors.ErrConfiguration)
	}
	if cfg.StaleAfterRounds < 0 {
		return fmt.Errorf("%w: stale after rounds must not be negative", pkgerrors.ErrConfiguration)
	}

	if !registry.IsChief() {
		_, err := registry.DialAddress()

		return err
	}

	if cfg.WaitDuration <= 0 {
		return fmt.Errorf("%w: wait duration must be positive", pkgerrors.ErrConfiguration)
	}
	if _, err := fl.NewAggregator(cfg.Aggregation); err != nil {
		return fmt.Errorf("%w: %w", pkgerrors.ErrConfiguration, err)
	}
	if cfg.CheckpointDir != "" {
		if err := checkpoint.Backend(cfg.CheckpointBackend).Validate(); err != nil {
			return err
		}
	}

	return nil
}

func runChief(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group, cfg envConfig, registry *cluster.Registry, sessCfg session.Config, trainer *session.Trainer, pubsub mqtt.PubSub, tracer trace.Tracer, logger *slog.Logger) (err error) {
	var ckpts *checkpoint.Manager
	if cfg.CheckpointDir != "" {
		store, oerr := checkpoint.Open(cfg.CheckpointDir, checkpoint.Backend(cfg.CheckpointBackend))
		if oerr != nil {
			return oerr
		}
		ckpts = checkpoint.NewManager(store, checkpoint.Config{Every: cfg.CheckpointEvery, Keep: cfg.CheckpointKeep}, logger)
		defer func() {
			if err != nil {
				if cerr := ckpts.Close(); cerr != nil {
					logger.Warn("failed to close checkpoint store", slog.Any("error", cerr))
				}
			}
		}()
	}

	var notifier chief.Notifier
	if pubsub != nil {
		notifier = chief.NewMQTTNotifier(pubsub, cfg.ChannelID)
	}

	fatalErr := make(chan error, 1)
	fatal := func(err error) {
		select {
		case fatalErr <- err:
		default:
		}
		cancel()
	}

	svc, err := chief.NewService(chief.Config{
		NumWorkers:          registry.NumWorkers(),
		IntervalSteps:       cfg.IntervalSteps,
		ReplicasToAggregate: cfg.ReplicasToAggregate,
		MergeGrace:          cfg.MergeGrace,
		StaleAfterRounds:    cfg.StaleAfterRounds,
		Aggregation:         cfg.Aggregation,
	}, ckpts, notifier, fatal, logger)
	if err != nil {
		return err
	}
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if cfg.Restore {
		info, err := svc.RestoreLatest(ctx)
		switch {
		case errors.Is(err, pkgerrors.ErrNoCheckpoint):
			logger.Info("no checkpoint to restore, starting fresh")
		case err != nil:
			return err
		default:
			logger.Info("restored checkpoint", slog.Uint64("global_step", info.Step))
		}
	}

	sess, err := session.New(sessCfg, svc, logger)
	if err != nil {
		return err
	}
	trainer.Session = sess
	trainer.Sink = session.Sinks(trainer.Sink, session.PrometheusSink(svcName))

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		return fmt.Errorf("failed to load %s HTTP server configuration : %w", svcName, err)
	}
	hs := server.NewHTTPServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	g.Go(func() error {
		defer cancel()
		defer func() {
			if err := svc.Shutdown(context.Background()); err != nil {
				logger.Error("failed to shut down chief", slog.Any("error", err))
			}
		}()

		if err := trainer.Run(ctx, cfg.Steps); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		// Followers still pull the final global parameters and flush their
		// last report.
		logger.Info("training finished, serving followers before exit", slog.String("linger", cfg.Linger.String()))
		select {
		case <-time.After(cfg.Linger):
		case <-ctx.Done():
		}

		select {
		case err := <-fatalErr:
			return err
		default:
			return nil
		}
	})

	return nil
}

func runFollower(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group, cfg envConfig, registry *cluster.Registry, sessCfg session.Config, trainer *session.Trainer, pubsub mqtt.PubSub, logger *slog.Logger) error {
	addr, err := registry.DialAddress()
	if err != nil {
		return err
	}
	client := sdk.NewSDK(sdk.Config{ChiefURL: "http://" + addr})

	if pubsub != nil {
		onRound := func(n chief.RoundNotice) {
			if n.Outcome != chief.OutcomeMerged {
				logger.Warn("round did not merge", slog.Uint64("round", n.Round), slog.String("outcome", string(n.Outcome)))
			}
		}
		if err := chief.Subscribe(ctx, cfg.ChannelID, pubsub, nil, onRound, logger); err != nil {
			logger.Warn("failed to subscribe to chief notices", slog.Any("error", err))
		}
	}

	sess, err := session.New(sessCfg, client, logger)
	if err != nil {
		return err
	}
	trainer.Session = sess

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName)
	})

	g.Go(func() error {
		defer cancel()

		if err := trainer.Run(ctx, cfg.Steps); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	return nil
}

// loadConfig applies defaults, then the cluster file, then the environment.
func loadConfig() (envConfig, error) {
	cfg := defaultConfig()

	if path := os.Getenv("FEDSYNC_CLUSTER_FILE"); path != "" {
		file, err := fedsync.LoadConfig(path)
		if err != nil {
			return envConfig{}, err
		}
		if err := applyFile(&cfg, file); err != nil {
			return envConfig{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, err
	}

	return cfg, nil
}

func applyFile(cfg *envConfig, file *fedsync.Config) error {
	c, t, ck := file.Cluster, file.Training, file.Checkpoint
	setString(&cfg.ChiefPrivateAddr, c.ChiefPrivateAddr)
	setString(&cfg.ChiefPublicAddr, c.ChiefPublicAddr)
	setString(&cfg.Network, c.Network)
	if len(c.Workers) > 0 {
		cfg.Workers = c.Workers
		cfg.NumWorkers = len(c.Workers)
	}

	setInt(&cfg.IntervalSteps, t.IntervalSteps)
	setInt(&cfg.ReplicasToAggregate, t.ReplicasToAggregate)
	setInt(&cfg.StaleAfterRounds, t.StaleAfterRounds)
	setInt(&cfg.Steps, t.Steps)
	setInt(&cfg.StepsPerEpoch, t.StepsPerEpoch)
	setString(&cfg.Aggregation, t.Aggregation)
	if err := setDuration(&cfg.WaitDuration, t.WaitDuration); err != nil {
		return err
	}
	if err := setDuration(&cfg.MergeGrace, t.MergeGrace); err != nil {
		return err
	}

	setString(&cfg.CheckpointDir, ck.Dir)
	setString(&cfg.CheckpointBackend, ck.Backend)
	setInt(&cfg.CheckpointKeep, ck.Keep)
	if ck.Every > 0 {
		cfg.CheckpointEvery = ck.Every
	}

	setString(&cfg.MQTTAddress, file.MQTT.Address)
	setString(&cfg.ChannelID, file.MQTT.ChannelID)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %w", pkgerrors.ErrConfiguration, err)
	}
	*dst = d

	return nil
}
