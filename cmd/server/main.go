package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/academy-portal/internal/accounts"
	"github.com/keithlinneman/academy-portal/internal/authz"
	"github.com/keithlinneman/academy-portal/internal/cfg"
	"github.com/keithlinneman/academy-portal/internal/health"
	"github.com/keithlinneman/academy-portal/internal/httpserver"
	"github.com/keithlinneman/academy-portal/internal/log"
	"github.com/keithlinneman/academy-portal/internal/metrics"
	"github.com/keithlinneman/academy-portal/internal/opshttp"
	"github.com/keithlinneman/academy-portal/internal/otelx"
	"github.com/keithlinneman/academy-portal/internal/portalhttp"
	"github.com/keithlinneman/academy-portal/internal/prof"
	"github.com/keithlinneman/academy-portal/internal/ratelimit"
	"github.com/keithlinneman/academy-portal/internal/rbac"
	"github.com/keithlinneman/academy-portal/internal/secrets"
	"github.com/keithlinneman/academy-portal/internal/session"
	v "github.com/keithlinneman/academy-portal/internal/version"
	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s/%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
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

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	// empty keeps the logger default of error
	var stackLvl slog.Leveler
	if conf.StacktraceLevel != "" {
		sl, err := log.ParseLevel(conf.StacktraceLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
		stackLvl = sl
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"trace_sample", conf.TraceSample,
		"accounts_file", conf.AccountsFile,
		"session_ssm_param", conf.SessionSSMParam,
		"session_ttl", conf.SessionTTL,
		"session_cookie_name", conf.SessionCookieName,
		"session_cookie_secure", conf.SessionSecureCookie,
		"ratelimit_capacity", conf.RateLimitCapacity,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       otelx.ServiceName(v.AppName, v.Component),
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": v.Component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost so the exporter skips TLS
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfo(vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	secret, err := secrets.Resolve(ctx, secrets.Options{
		Logger:   L,
		SSMParam: conf.SessionSSMParam,
		Literal:  conf.SessionSecret,
	})
	if err != nil {
		L.Error(ctx, err, "failed to resolve session secret")
		os.Exit(1)
	}
	sessions, err := session.NewManager(session.Options{
		Secret:       secret.Value,
		TTL:          conf.SessionTTL,
		Issuer:       v.AppName,
		CookieName:   conf.SessionCookieName,
		SecureCookie: conf.SessionSecureCookie,
	})
	if err != nil {
		L.Error(ctx, err, "invalid session configuration", "secret_source", secret.Source)
		os.Exit(1)
	}
	L.Info(ctx, "session signing configured", "secret_source", secret.Source, "ttl", sessions.TTL())

	dir, err := accounts.LoadFile(conf.AccountsFile)
	if err != nil {
		L.Error(ctx, err, "failed to load accounts", "accounts_file", conf.AccountsFile)
		os.Exit(1)
	}
	m.SetAccountsLoaded(dir.Len())
	L.Info(ctx, "loaded accounts", "count", dir.Len(), "roles", len(rbac.Roles()))

	newLimiter := func(p ratelimit.Preset, window time.Duration, limit int) *ratelimit.Limiter {
		evictLog := &rate.Sometimes{Interval: time.Minute}
		l := ratelimit.New(ctx,
			ratelimit.WithPreset(p),
			ratelimit.WithWindow(window),
			ratelimit.WithLimit(limit),
			ratelimit.WithCapacity(conf.RateLimitCapacity),
			ratelimit.WithSweepInterval(conf.RateLimitSweep),
			ratelimit.WithOnDenied(func(string) {
				m.IncRateLimitDenied(p.Name)
			}),
			// once per client per window, the table entry resets the flag
			ratelimit.WithOnFirstDenied(func(key string) {
				L.Warn(ctx, "rate limit triggered", "limiter", p.Name, "client.address", key)
			}),
			ratelimit.WithOnEvict(func(n int) {
				m.AddRateLimitEvicted(p.Name, n)
				evictLog.Do(func() {
					L.Warn(ctx, "rate limit table at capacity, evicted oldest clients", "limiter", p.Name, "evicted", n)
				})
			}),
		)
		m.RegisterRateLimitTracked(p.Name, l.Len)
		return l
	}
	authLimiter := newLimiter(ratelimit.AuthPreset, conf.AuthRateWindow, conf.AuthRateLimit)
	apiLimiter := newLimiter(ratelimit.APIPreset, conf.APIRateWindow, conf.APIRateLimit)
	publicLimiter := newLimiter(ratelimit.PublicPreset, conf.PublicRateWindow, conf.PublicRateLimit)

	gate := authz.New(sessions)
	gate.OnDenied = func(reason string, _ rbac.Permission) {
		m.IncAuthzDenied(reason)
	}

	api := portalhttp.NewAPI(portalhttp.Options{
		Logger:        L,
		Sessions:      sessions,
		Directory:     dir,
		Authenticator: accounts.NewAuthenticator(dir),
		Gate:          gate,
		AuthLimit:     authLimiter.Middleware,
		APILimit:      apiLimiter.Middleware,
		OnLogin:       m.IncLoginAttempt,
	})

	var shutdown health.ShutdownGate
	readiness := health.All(
		shutdown.Probe(),
		health.NonEmpty("accounts", dir.Len),
	)

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		RateLimitMW:  publicLimiter.Middleware,
		APIRoutes:    api.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// the ops listener refuses public peers unless told otherwise, so a
	// misrouted load balancer cannot reach pprof or metrics
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops routing here before listeners close
	shutdown.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
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

// notifySystemd sends READY=1 when started under a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return xerrors.Wrap(err, "systemd notify: write")
	}
	if err := conn.Close(); err != nil {
		return xerrors.Wrap(err, "systemd notify: close")
	}
	return nil
}
