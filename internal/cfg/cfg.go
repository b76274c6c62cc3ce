package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/academy-portal/internal/log"
)

// EnvPrefix is prepended to flag names to form environment variable names.
const EnvPrefix = "ACADEMY_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	DrainPeriod       time.Duration

	// sessions
	SessionSecret       string
	SessionSSMParam     string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionSecureCookie bool

	// account directory seed file
	AccountsFile string

	// rate limits, one window/limit pair per route class
	RateLimitCapacity int
	RateLimitSweep    time.Duration
	AuthRateWindow    time.Duration
	AuthRateLimit     int
	APIRateWindow     time.Duration
	APIRateLimit      int
	PublicRateWindow  time.Duration
	PublicRateLimit   int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "how long readiness fails before listeners close on shutdown")

	fs.StringVar(&c.SessionSecret, "session-secret", "", "literal session signing secret (dev only, prefer -session-ssm-param)")
	fs.StringVar(&c.SessionSSMParam, "session-ssm-param", "", "SSM SecureString parameter holding the session signing secret")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 12*time.Hour, "session token lifetime")
	fs.StringVar(&c.SessionCookieName, "session-cookie-name", "academy_session", "session cookie name")
	fs.BoolVar(&c.SessionSecureCookie, "session-secure-cookie", true, "set the Secure attribute on the session cookie")

	fs.StringVar(&c.AccountsFile, "accounts-file", "accounts.yaml", "YAML seed file for the account directory")

	fs.IntVar(&c.RateLimitCapacity, "ratelimit-capacity", 500, "max tracked clients per limiter before eviction (0 = unbounded)")
	fs.DurationVar(&c.RateLimitSweep, "ratelimit-sweep", time.Minute, "interval of the background sweep of expired windows (0 = off)")
	fs.DurationVar(&c.AuthRateWindow, "auth-rate-window", time.Minute, "rate limit window for login/logout")
	fs.IntVar(&c.AuthRateLimit, "auth-rate-limit", 5, "requests per window for login/logout")
	fs.DurationVar(&c.APIRateWindow, "api-rate-window", time.Minute, "rate limit window for the authenticated API")
	fs.IntVar(&c.APIRateLimit, "api-rate-limit", 60, "requests per window for the authenticated API")
	fs.DurationVar(&c.PublicRateWindow, "public-rate-window", time.Minute, "rate limit window for all public traffic")
	fs.IntVar(&c.PublicRateLimit, "public-rate-limit", 120, "requests per window for all public traffic")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, redact(f.Name, f.Value.String()), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, redact(f.Name, envVal), err)
			}
		}
	})
}

// redact hides values of secret-bearing flags in log output
func redact(name, v string) string {
	if strings.Contains(name, "secret") && v != "" {
		return "[redacted]"
	}
	return v
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL, scheme and tenant)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Sessions: the secret itself is checked once resolved, here only that a source exists
	if c.SessionSSMParam == "" && c.SessionSecret == "" {
		errs = append(errs, fmt.Errorf("one of SESSION_SSM_PARAM or SESSION_SECRET is required"))
	}
	if c.SessionTTL < time.Minute || c.SessionTTL > 30*24*time.Hour {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be 1m..720h (got %s)", c.SessionTTL))
	}
	if c.SessionCookieName == "" || strings.ContainsAny(c.SessionCookieName, " ;,=\t") {
		errs = append(errs, fmt.Errorf("invalid SESSION_COOKIE_NAME %q", c.SessionCookieName))
	}

	if c.AccountsFile == "" {
		errs = append(errs, fmt.Errorf("ACCOUNTS_FILE is required"))
	}

	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	// Rate limits
	if c.RateLimitCapacity < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_CAPACITY must be >= 0 (got %d)", c.RateLimitCapacity))
	}
	if c.RateLimitSweep < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP must be >= 0 (got %s)", c.RateLimitSweep))
	}
	for _, rl := range []struct {
		name   string
		window time.Duration
		limit  int
	}{
		{"AUTH", c.AuthRateWindow, c.AuthRateLimit},
		{"API", c.APIRateWindow, c.APIRateLimit},
		{"PUBLIC", c.PublicRateWindow, c.PublicRateLimit},
	} {
		if rl.window < time.Second {
			errs = append(errs, fmt.Errorf("%s_RATE_WINDOW must be >= 1s (got %s)", rl.name, rl.window))
		}
		if rl.limit < 1 {
			errs = append(errs, fmt.Errorf("%s_RATE_LIMIT must be >= 1 (got %d)", rl.name, rl.limit))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
