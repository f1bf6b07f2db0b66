package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/health"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/planhttp"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ruleset"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-chunkplan/internal/version"
)

// drainPeriod is how long the server keeps answering after readiness flips
// to failing, so the load balancer can stop routing to it.
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// .env is optional; real env vars and flags win
	if err := cfg.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	opts := log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		JSONFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	}
	if conf.StacktraceLevel != "" {
		opts.StacktraceLevel, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildID,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"release", v.IsRelease(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"max_body_bytes", conf.MaxBodyBytes,
		"trusted_hops", conf.TrustedHops,
		"rate_limit_rps", conf.RateLimitRPS,
		"rate_limit_burst", conf.RateLimitBurst,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"ruleset_file", conf.RulesetFile,
		"enable_ruleset_updates", conf.EnableRulesetUpdates,
		"ruleset_ssm_param", conf.RulesetSSMParam,
		"ruleset_s3_bucket", conf.RulesetS3Bucket,
		"ruleset_s3_prefix", conf.RulesetS3Prefix,
		"ruleset_signing_key_arn", conf.RulesetSigningKeyARN,
		"decision_cache_size", conf.DecisionCacheSize,
	)

	m := metrics.New()
	m.SetBuildInfo("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Insecure: we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	mgr := ruleset.NewManager()
	initial, err := initialRuleset(conf)
	if err != nil {
		L.Error(ctx, err, "failed to load rule set", "ruleset_file", conf.RulesetFile)
		os.Exit(1)
	}
	mgr.Set(initial)
	L.Info(ctx, "loaded rule set",
		"ruleset_version", mgr.RulesetVersion(),
		"ruleset_hash", mgr.RulesetHash(),
		"ruleset_source", string(mgr.Source()),
	)

	if conf.EnableRulesetUpdates {
		if err := startRulesetUpdates(ctx, L, conf, mgr, m); err != nil {
			// the built-in set keeps answering until a published one lands
			L.Error(ctx, err, "rule-set updates unavailable, serving built-in rule set")
		}
	}
	m.SetRuleset(mgr.RulesetHash(), string(mgr.Source()), mgr.LoadedAt())

	api := planhttp.NewAPI(mgr, L, planhttp.WithMetrics(m))

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(context.Context) error {
			return mgr.ReadyErr()
		}),
	)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) {
				m.IncRateLimitDenied()
			}),
			// logged once per client until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: conf.MaxBodyBytes,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		RulesetInfo:  mgr,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// metrics, probes and pprof stay off the public port
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout if this really mattered
		L.Debug(ctx, "systemd readiness not sent", "reason", err.Error())
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "readiness failing, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func initialRuleset(conf cfg.App) (*ruleset.Set, error) {
	if conf.RulesetFile != "" {
		return ruleset.LoadFile(conf.RulesetFile, ruleset.WithCacheSize(conf.DecisionCacheSize))
	}
	return ruleset.Default(ruleset.WithCacheSize(conf.DecisionCacheSize)), nil
}

// startRulesetUpdates loads the published rule set and starts polling for
// new ones. On error the manager keeps whatever it already holds.
func startRulesetUpdates(ctx context.Context, L log.Logger, conf cfg.App, mgr *ruleset.Manager, m *metrics.ServerMetrics) error {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}

	var verifier cryptoutil.Verifier
	if conf.RulesetSigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.RulesetSigningKeyARN)
	}

	loader, err := ruleset.NewLoader(ctx, ruleset.LoaderOptions{
		Logger:    L,
		SSMParam:  conf.RulesetSSMParam,
		S3Bucket:  conf.RulesetS3Bucket,
		S3Prefix:  conf.RulesetS3Prefix,
		Verifier:  verifier,
		CacheSize: conf.DecisionCacheSize,
		SSMClient: ssm.NewFromConfig(awsCfg),
		S3Client:  s3.NewFromConfig(awsCfg),
	})
	if err != nil {
		return err
	}

	if err := loader.LoadIntoManager(ctx, mgr); err != nil {
		// the watcher retries on its own schedule
		L.Error(ctx, err, "initial rule-set load failed")
	} else {
		L.Info(ctx, "loaded published rule set",
			"ruleset_version", mgr.RulesetVersion(),
			"ruleset_hash", mgr.RulesetHash(),
		)
	}

	w := ruleset.NewWatcher(&ruleset.WatcherOptions{
		Logger:       L,
		Loader:       loader,
		Manager:      mgr,
		PollInterval: conf.RulesetPollInterval,
		Metrics:      m,
		OnSwap: func(s *ruleset.Set) {
			m.SetRuleset(s.Meta.SHA256, string(s.Meta.Source), s.Meta.LoadedAt)
		},
	})
	go func() { _ = w.Run(ctx) }()
	return nil
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
