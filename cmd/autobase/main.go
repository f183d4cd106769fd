package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/autobase/internal/autorebase"
	"github.com/simplesurance/autobase/internal/cfg"
	"github.com/simplesurance/autobase/internal/evloop"
	"github.com/simplesurance/autobase/internal/ghaction"
	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/logfields"
	"github.com/simplesurance/autobase/internal/provider/github"
	"github.com/simplesurance/autobase/internal/retry"
)

const appName = "autobase"

const publicGithubAPIURL = "https://api.github.com"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

// startHTTPServer starts srv in a go-routine and registers a shutdown handler
// for it. If certFile is not empty, the server serves HTTPS.
func startHTTPServer(srv *http.Server, certFile, keyFile string) {
	proto := "http"
	if certFile != "" {
		proto = "https"
	}

	logger := logger.With(zap.String("protocol", proto), zap.String("listenAddr", srv.Addr))

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info("http server started", logfields.Event("http_server_started"))

		var err error
		if certFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	EnvFile     *string
	Serve       *bool
	DryRun      *bool
	ShowVersion *bool
}

var args arguments

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			"",
			"path to the autobase configuration file, if unset the default configuration is used",
		),
		EnvFile: pflag.String(
			"env-file",
			"",
			"load environment variables from a .env file, variables that are already set are not overwritten",
		),
		Serve: pflag.Bool(
			"serve",
			false,
			"run as server and receive GitHub webhook events, instead of processing the event of a GitHub Actions workflow run",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"do not update branches on GitHub, only log what would be done",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nRebase the next labeled pull request when its base branch changed or its checks failed.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	if *args.EnvFile != "" {
		err := cfg.LoadEnvFile(*args.EnvFile)
		exitOnErr(fmt.Sprintf("could not load env file: %s", *args.EnvFile), err)
	}

	config := cfg.Default()

	if *args.ConfigFile != "" {
		file, err := os.Open(*args.ConfigFile)
		exitOnErr("could not open configuration file", err)
		defer file.Close()

		config, err = cfg.Load(file)
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	if !*args.Serve {
		err := config.ApplyActionInputs(os.LookupEnv)
		exitOnErr("could not apply action inputs", err)
	}

	if *args.DryRun {
		config.DryRun = true
	}

	exitOnErr("invalid configuration", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	if !*args.Serve {
		logger = logger.With(logfields.RunID(uuid.NewString()))
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustInitGithubClient(config *cfg.Config) autorebase.GithubClient {
	var clt autorebase.GithubClient

	opts := []githubclt.Option{githubclt.WithUpdateMethod(config.UpdateMethod)}

	if config.GithubAPIURL == "" || config.GithubAPIURL == publicGithubAPIURL {
		clt = githubclt.New(config.GithubAPIToken, opts...)
	} else {
		var err error
		clt, err = githubclt.NewEnterprise(config.GithubAPIToken, config.GithubAPIURL, config.GithubGraphQLURL, opts...)
		exitOnErr("could not create github client", err)
	}

	if config.DryRun {
		logger.Info("dry run mode enabled, branches are not updated", logfields.Event("dry_run_enabled"))
		clt = autorebase.NewDryGithubClient(clt, logger)
	}

	return clt
}

func mustInitRetryer(config *cfg.Config) *retry.Retryer {
	retryer := retry.New(retry.WithMaxRetryTimeout(config.RetryTimeoutDuration()))
	goodbye.Register(func(context.Context, os.Signal) {
		retryer.Stop()
	})

	return retryer
}

func logConfig(config *cfg.Config) {
	logger.Info(
		"loaded configuration",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("label", config.Label),
		zap.Int("required_approvals", config.RequiredApprovals),
		zap.String("base_branch", config.BaseBranch),
		zap.String("update_method", config.UpdateMethod),
		zap.Bool("dry_run", config.DryRun),
		zap.String("retry_timeout", config.RetryTimeout),
		zap.String("github_api_url", config.GithubAPIURL),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_level", config.LogLevel),
	)
}

func dispatcherConfig(config *cfg.Config) autorebase.DispatcherConfig {
	return autorebase.DispatcherConfig{
		Label:             config.Label,
		RequiredApprovals: config.RequiredApprovals,
		BaseBranch:        config.BaseBranch,
	}
}

// runAction processes the event that triggered the GitHub Actions workflow
// run and returns the exit code.
func runAction(config *cfg.Config) int {
	rt := ghaction.New()

	ghCtx, err := rt.Context()
	if err != nil {
		rt.SetFailed(err)
		return 1
	}

	if config.GithubAPIURL == "" && ghCtx.APIURL != "" {
		config.GithubAPIURL = ghCtx.APIURL
		config.GithubGraphQLURL = ghCtx.GraphQLURL
	}

	logConfig(config)

	logger := logger.With(ghCtx.Repository.LogFields()...).With(logfields.GithubEventType(ghCtx.EventName))

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
		cancelFn()
	})

	dispatcher := autorebase.NewDispatcher(
		mustInitGithubClient(config),
		mustInitRetryer(config),
		dispatcherConfig(config),
	)

	return rt.Run(ctx, ghCtx, dispatcher)
}

func mustStartServer(config *cfg.Config) {
	logConfig(config)

	logger.Info(
		"server configuration",
		logfields.Event("server_cfg_loaded"),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("filter_query", config.FilterQuery),
		zap.Int("repositories", len(config.Repositories)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	if config.HTTPListenAddr == "" && config.HTTPSListenAddr == "" {
		fmt.Fprintf(os.Stderr, "https_server_listen_addr or http_server_listen_addr must be defined in the config file, both are unset\n")
		os.Exit(1)
	}

	filter, err := evloop.NewFilter(config.FilterQuery)
	exitOnErr("invalid filter_query", err)

	repos := make([]autorebase.Repository, 0, len(config.Repositories))
	for _, r := range config.Repositories {
		repos = append(repos, autorebase.Repository{Owner: r.Owner, Name: r.RepositoryName})
	}

	dispatcher := autorebase.NewDispatcher(
		mustInitGithubClient(config),
		mustInitRetryer(config),
		dispatcherConfig(config),
	)

	evLoop := evloop.New(
		dispatcher,
		evloop.WithFilter(filter),
		evloop.WithRepositories(repos...),
	)

	gh := github.New(
		evLoop.C(),
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux := http.NewServeMux()
	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())

	if config.HTTPListenAddr != "" {
		startHTTPServer(&http.Server{Addr: config.HTTPListenAddr, Handler: mux}, "", "")
	}

	if config.HTTPSListenAddr != "" {
		startHTTPServer(
			&http.Server{Addr: config.HTTPSListenAddr, Handler: mux},
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
		)
	}

	go func() {
		defer panicHandler()
		evLoop.Start()
	}()

	// registered after the http servers, the event channel must not be
	// closed before the handlers stopped sending to it
	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug("stopping event loop", logfields.Event("event_loop_stopping"))
		evLoop.Stop()
	})
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	if !*args.Serve {
		goodbye.Exit(context.Background(), runAction(config))
		return
	}

	mustStartServer(config)

	select {}
}
