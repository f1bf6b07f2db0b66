// Command chunkplan plans chunks and output paths for a build manifest
// without a server: manifest in, plan JSON out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/plan"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/ruleset"
	v "github.com/keithlinneman/linnemanlabs-chunkplan/internal/version"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// exitOverLimit is returned when -fail-over-limit is set and the plan has
// more chunks than -chunk-warn-limit.
const exitOverLimit = 3

type options struct {
	manifest      string
	rulesetFile   string
	chunkLimit    int
	failOverLimit bool
	printDefault  bool
	logLevel      string
	compact       bool
	showVersion   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("chunkplan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.manifest, "manifest", "-", "manifest JSON file, - for stdin")
	fs.StringVar(&o.rulesetFile, "ruleset", "", "rule-set TOML file (built-in rules when empty)")
	fs.IntVar(&o.chunkLimit, "chunk-warn-limit", 0, "warn when the plan has more chunks than this (0 disables)")
	fs.BoolVar(&o.failOverLimit, "fail-over-limit", false, "exit non-zero when -chunk-warn-limit is exceeded")
	fs.BoolVar(&o.printDefault, "print-default-ruleset", false, "print the built-in rule set as TOML and exit")
	fs.StringVar(&o.logLevel, "log-level", "warn", "debug|info|warn|error")
	fs.BoolVar(&o.compact, "compact", false, "write the plan without indentation")
	fs.BoolVar(&o.showVersion, "V", false, "Print version+build information and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, xerrors.Newf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "chunkplan:", err)
		return 2
	}

	if o.showVersion {
		vi := v.Get()
		fmt.Fprintf(stdout, "%s %s (commit=%s, go=%s)\n", vi.App, vi.Version, vi.Commit, vi.GoVersion)
		return 0
	}

	lvl, err := log.ParseLevel(o.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, "chunkplan:", err)
		return 2
	}
	L, err := log.New(log.Options{
		App:     v.AppName,
		Version: v.Version,
		Commit:  v.Commit,
		Level:   lvl,
		Writer:  stderr,
	})
	if err != nil {
		fmt.Fprintln(stderr, "chunkplan: logger init:", err)
		return 1
	}
	L = L.With("component", "cli")
	ctx = log.WithContext(ctx, L)

	if o.printDefault {
		out, err := ruleset.DefaultDocument().Encode()
		if err != nil {
			L.Error(ctx, err, "encode default rule set")
			return 1
		}
		_, _ = stdout.Write(out)
		return 0
	}

	p, err := buildPlan(ctx, o, stdin)
	if err != nil {
		L.Error(ctx, err, "planning failed")
		return 1
	}

	over := p.CheckChunkLimit(o.chunkLimit)
	for _, w := range p.Warnings {
		L.Warn(ctx, w)
	}

	enc := json.NewEncoder(stdout)
	if !o.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(p); err != nil {
		L.Error(ctx, err, "write plan")
		return 1
	}

	if over && o.failOverLimit {
		return exitOverLimit
	}
	return 0
}

func buildPlan(ctx context.Context, o options, stdin io.Reader) (plan.Plan, error) {
	L := log.FromContext(ctx)

	set := ruleset.Default()
	if o.rulesetFile != "" {
		s, err := ruleset.LoadFile(o.rulesetFile)
		if err != nil {
			return plan.Plan{}, err
		}
		set = s
	}
	L.Debug(ctx, "rule set loaded",
		"ruleset_version", set.Meta.Version,
		"ruleset_hash", set.Meta.SHA256,
		"ruleset_source", string(set.Meta.Source),
	)

	r := stdin
	if o.manifest != "-" {
		f, err := os.Open(o.manifest)
		if err != nil {
			return plan.Plan{}, xerrors.Wrapf(err, "open manifest %s", o.manifest)
		}
		defer f.Close()
		r = f
	}
	m, err := plan.DecodeManifest(r)
	if err != nil {
		return plan.Plan{}, err
	}

	p := plan.Build(set, m)
	L.Info(ctx, "plan built",
		"modules", p.Summary.Modules,
		"chunks", p.Summary.ChunkCount,
		"deferred", p.Summary.Deferred,
		"files", p.Summary.Files,
	)
	return p, nil
}
