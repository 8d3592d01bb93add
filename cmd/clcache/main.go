package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/webmaster128/clcache/internal/cache"
	"github.com/webmaster128/clcache/internal/common"
	"github.com/webmaster128/clcache/internal/dispatcher"
)

// adminSubcommands is the closed set clcache recognizes when argv[1] begins
// with "--" (spec §6 "process interface"). Anything else starting with "--"
// falls through to the real compiler, the way cl.exe itself would reject an
// unrecognized switch rather than clcache silently swallowing it.
var adminSubcommands = map[string]bool{
	"--stats":      true,
	"--clean":      true,
	"--set-config": true,
	"--version":    true,
}

func failedStart(err interface{}) {
	_, _ = fmt.Fprintln(os.Stderr, "[clcache]", err)
	os.Exit(dispatcher.InternalFailureExitCode)
}

func main() {
	if len(os.Args) >= 2 && adminSubcommands[os.Args[1]] {
		runAdmin(os.Args[1], os.Args[2:])
		return
	}
	runWrapper(os.Args)
}

// runAdmin handles --stats/--clean/--set-config/--version. It shifts the
// subcommand out of os.Args so the teacher's global flag/env combinator only
// ever sees -log-filename/-log-verbosity; the subcommand's own positional
// argument (a byte count, or "max-size=N") is read back via flag.Args(),
// since it doesn't fit the combinator's -name=value shape.
func runAdmin(subcommand string, rest []string) {
	os.Args = append([]string{"clcache " + subcommand}, rest...)

	logFileName := common.CmdEnvString("A filename to log, nothing by default.\nWhen logging to a file, errors are duplicated to stderr.", "",
		"log-filename", "CLCACHE_LOG")
	logVerbosity := common.CmdEnvInt("Logger verbosity level for INFO (-1 off, default 0, max 2).", 0,
		"log-verbosity", "")

	common.ParseCmdFlagsCombiningWithEnv()
	positional := flag.Args()

	if subcommand == "--version" {
		fmt.Println(common.GetVersion())
		return
	}

	if err := common.InitLogger(*logFileName, *logVerbosity); err != nil {
		failedStart(err)
	}

	root, err := cache.OpenFromEnv()
	if err != nil {
		failedStart(err)
	}

	switch subcommand {
	case "--stats":
		stats, err := root.Stats.Load()
		if err != nil {
			failedStart(err)
		}
		printStats(stats)

	case "--clean":
		target, err := cleanTarget(root, positional)
		if err != nil {
			failedStart(err)
		}
		size, err := root.Clean(target)
		if err != nil {
			failedStart(err)
		}
		fmt.Printf("cache cleaned to %d bytes\n", size)

	case "--set-config":
		maxSize, err := parseMaxSizeToken(positional)
		if err != nil {
			failedStart(err)
		}
		cfg, err := root.Config.Update(func(c *cache.Configuration) {
			c.MaximumCacheSize = maxSize
		})
		if err != nil {
			failedStart(err)
		}
		fmt.Printf("MaximumCacheSize = %d\n", cfg.MaximumCacheSize)
	}
}

// cleanTarget resolves --clean's optional byte-count argument, defaulting to
// the currently configured MaximumCacheSize when none is given.
func cleanTarget(root *cache.CacheRoot, positional []string) (int64, error) {
	if len(positional) == 0 {
		cfg, err := root.Config.Load()
		if err != nil {
			return 0, err
		}
		return cfg.MaximumCacheSize, nil
	}
	return strconv.ParseInt(positional[0], 10, 64)
}

// parseMaxSizeToken parses the literal "max-size=N" token from
// "clcache --set-config max-size=N" (spec §6).
func parseMaxSizeToken(positional []string) (int64, error) {
	if len(positional) == 0 {
		return 0, fmt.Errorf("usage: clcache --set-config max-size=N")
	}
	key, value, found := strings.Cut(positional[0], "=")
	if !found || key != "max-size" {
		return 0, fmt.Errorf("unrecognized --set-config argument %q, want max-size=N", positional[0])
	}
	return strconv.ParseInt(value, 10, 64)
}

func printStats(stats cache.Statistics) {
	fmt.Printf("cache hits                   %d\n", stats.CacheHits)
	fmt.Printf("cache misses                 %d\n", stats.NumCacheMisses)
	fmt.Printf("  fresh                      %d\n", stats.MissesFresh)
	fmt.Printf("  header changed             %d\n", stats.MissesHeaderChanged)
	fmt.Printf("  source changed             %d\n", stats.MissesSourceChanged)
	fmt.Printf("  evicted                    %d\n", stats.MissesEvicted)
	fmt.Printf("calls without source         %d\n", stats.CallsWithoutSource)
	fmt.Printf("calls for linking            %d\n", stats.CallsForLinking)
	fmt.Printf("calls with pch               %d\n", stats.CallsWithPch)
	fmt.Printf("calls for preprocessing      %d\n", stats.CallsForPreprocessing)
	fmt.Printf("calls with invalid args      %d\n", stats.CallsWithInvalidArgs)
	fmt.Printf("calls with unsupported env   %d\n", stats.CallsWithUnsupportedEnv)
	fmt.Printf("calls for external debuginfo %d\n", stats.CallsForExternalDebugInfo)
}

// runWrapper is the real entrypoint: argv is the compiler line clcache was
// invoked in place of (argv[0] is the nominal compiler name, same convention
// as os.Args), and its exit code/stdout/stderr must match what the real
// compiler alone would have produced (spec §6 "process interface").
func runWrapper(argv []string) {
	if err := common.InitLogger(os.Getenv("CLCACHE_LOG"), 0); err != nil {
		failedStart(err)
	}

	root, err := cache.OpenFromEnv()
	if err != nil {
		failedStart(err)
	}
	compiler, err := dispatcher.ResolveCompiler()
	if err != nil {
		failedStart(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		failedStart(err)
	}

	d := dispatcher.New(root, compiler)
	outcome := d.Dispatch(ctx, argv, cwd)

	_, _ = os.Stdout.Write(outcome.Stdout)
	_, _ = os.Stderr.Write(outcome.Stderr)
	os.Exit(outcome.ExitCode)
}
