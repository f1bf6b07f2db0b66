// Package cfg binds chunkplan-server configuration to command-line flags with
// environment variable fallbacks.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// EnvPrefix is prepended to upper-cased flag names when reading env vars.
const EnvPrefix = "CHUNKPLAN_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	MaxBodyBytes int64
	TrustedHops  int

	RateLimitRPS   float64
	RateLimitBurst int

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	RulesetFile          string
	EnableRulesetUpdates bool
	RulesetSSMParam      string
	RulesetS3Bucket      string
	RulesetS3Prefix      string
	RulesetSigningKeyARN string
	RulesetPollInterval  time.Duration
	DecisionCacheSize    int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 8<<20, "max API request body size in bytes")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the API for X-Forwarded-For")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 50, "per-client request rate (0 disables rate limiting)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 100, "per-client burst size")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.RulesetFile, "ruleset-file", "", "local rule-set TOML file (built-in defaults when empty and updates are off)")
	fs.BoolVar(&c.EnableRulesetUpdates, "enable-ruleset-updates", false, "Poll SSM/S3 for rule-set updates")
	fs.StringVar(&c.RulesetSSMParam, "ruleset-ssm-param", "/app/chunkplan/server/ruleset/stable/id", "ssm parameter holding the active rule-set sha256")
	fs.StringVar(&c.RulesetS3Bucket, "ruleset-s3-bucket", "", "s3 bucket holding rule-set documents")
	fs.StringVar(&c.RulesetS3Prefix, "ruleset-s3-prefix", "apps/chunkplan/server/rulesets", "s3 prefix (key) holding <sha256>.toml documents")
	fs.StringVar(&c.RulesetSigningKeyARN, "ruleset-signing-key-arn", "", "KMS key ARN for rule-set signature verification (optional)")
	fs.DurationVar(&c.RulesetPollInterval, "ruleset-poll-interval", 30*time.Second, "how often to check SSM for a new rule set")
	fs.IntVar(&c.DecisionCacheSize, "decision-cache-size", 4096, "classification decisions kept in the LRU cache (0 disables)")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return xerrors.Wrapf(err, "load env files %v", present)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey returns the environment variable consulted for a flag.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0 (got %g)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting is on (got %d)", c.RateLimitBurst))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := checkHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.EnableRulesetUpdates {
		if c.RulesetFile != "" {
			errs = append(errs, errors.New("RULESET_FILE and ENABLE_RULESET_UPDATES are mutually exclusive"))
		}
		if c.RulesetSSMParam == "" {
			errs = append(errs, errors.New("RULESET_SSM_PARAM is required when ENABLE_RULESET_UPDATES=true"))
		}
		if c.RulesetS3Bucket == "" {
			errs = append(errs, errors.New("RULESET_S3_BUCKET is required when ENABLE_RULESET_UPDATES=true"))
		}
		if c.RulesetS3Prefix == "" {
			errs = append(errs, errors.New("RULESET_S3_PREFIX is required when ENABLE_RULESET_UPDATES=true"))
		}
		if c.RulesetPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("RULESET_POLL_INTERVAL must be >= 1s (got %s)", c.RulesetPollInterval))
		}
	}
	if c.DecisionCacheSize < 0 {
		errs = append(errs, fmt.Errorf("DECISION_CACHE_SIZE must be >= 0 (got %d)", c.DecisionCacheSize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// checkHostPort accepts "host:port" with a numeric port and no scheme.
func checkHostPort(addr string) error {
	if strings.Contains(addr, "://") {
		return errors.New("scheme not allowed")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
