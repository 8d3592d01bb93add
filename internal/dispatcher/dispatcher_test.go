package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webmaster128/clcache/internal/cache"
)

// fakeRunner stands in for cl.exe: it never execs anything, it just answers
// according to which flags the dispatcher added to the invocation, the way a
// real cl.exe would answer differently to /EP /showIncludes versus a genuine
// compile.
type fakeRunner struct {
	calls      int
	headerPath string
	objectPath string
	// exitCode, when non-zero, is returned by the "real compile" branch only.
	exitCode int
}

func (f *fakeRunner) Run(_ context.Context, cwd string, args []string) (Result, error) {
	f.calls++
	hasEP := containsArg(args, "/EP")

	if hasEP {
		return Result{
			ExitCode: 0,
			Stdout:   []byte("preprocessed-text-v1"),
			Stderr:   []byte("Note: including file:   " + f.headerPath + "\r\n"),
		}, nil
	}

	if f.exitCode != 0 {
		return Result{ExitCode: f.exitCode, Stdout: []byte("error"), Stderr: []byte("compile failed")}, nil
	}

	// a real /Fo-less compile writes "<source-basename>.obj" into cwd; derive
	// the same destination here so a fan-out of several sources each lands
	// its own object file instead of clobbering one fixed path.
	objectPath := f.objectPathFor(cwd, args)
	if err := os.WriteFile(objectPath, []byte("obj-bytes"), 0o644); err != nil {
		return Result{}, err
	}
	return Result{
		ExitCode: 0,
		Stdout:   []byte("Note: including file:   " + f.headerPath + "\r\nmain.cpp\r\n"),
		Stderr:   nil,
	}, nil
}

func (f *fakeRunner) objectPathFor(cwd string, args []string) string {
	for _, a := range args {
		ext := strings.ToLower(filepath.Ext(a))
		switch ext {
		case ".cpp", ".c", ".cxx", ".cc":
			name := strings.TrimSuffix(filepath.Base(a), ext) + ".obj"
			return filepath.Join(cwd, name)
		}
	}
	return f.objectPath
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

// lowercaseTempDir avoids a mismatch with includes.Parse, which lowercases
// every header path it reports: a temp dir containing uppercase letters
// (as t.TempDir() can, since it embeds the test name) would make the
// lowercased header path fail to resolve back to the real file.
func lowercaseTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "clcachetest")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeRunner, string) {
	t.Helper()
	cwd := lowercaseTempDir(t)
	cacheDir := lowercaseTempDir(t)

	sourcePath := filepath.Join(cwd, "main.cpp")
	require.NoError(t, os.WriteFile(sourcePath, []byte("int main() { return 0; }"), 0o644))
	headerPath := filepath.Join(cwd, "header.h")
	require.NoError(t, os.WriteFile(headerPath, []byte("#define X 1"), 0o644))
	compilerPath := filepath.Join(cwd, "cl.exe")
	require.NoError(t, os.WriteFile(compilerPath, []byte("not a real compiler"), 0o755))

	cacheRoot, err := cache.Open(cacheDir)
	require.NoError(t, err)

	runner := &fakeRunner{
		headerPath: headerPath,
		objectPath: filepath.Join(cwd, "main.obj"),
	}
	d := &Dispatcher{Cache: cacheRoot, Compiler: runner, CompilerPath: compilerPath}
	return d, runner, cwd
}

func TestDispatchDirectModeHitsAfterFirstMiss(t *testing.T) {
	d, runner, cwd := newTestDispatcher(t)
	argv := []string{"cl.exe", "/c", "main.cpp"}

	first := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, first.ExitCode, "stderr: %s", first.Stderr)
	require.Equal(t, 2, runner.calls, "expected preprocess + real compile on a miss")

	stats, err := d.Cache.Stats.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.NumCacheMisses)

	second := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, second.ExitCode, "stderr: %s", second.Stderr)
	require.Equal(t, 2, runner.calls, "direct-mode hit should not invoke the compiler again")

	stats, err = d.Cache.Stats.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CacheHits)

	_, err = os.Stat(filepath.Join(cwd, "main.obj"))
	require.NoError(t, err, "restored object should exist")
}

func TestDispatchPreprocessorModeHitWithNoDirect(t *testing.T) {
	d, runner, cwd := newTestDispatcher(t)
	d.Cache.NoDirect = true
	argv := []string{"cl.exe", "/c", "main.cpp"}

	first := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, first.ExitCode)
	require.Equal(t, 2, runner.calls)

	second := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, second.ExitCode)
	// NoDirect skips the manifest shortcut, so the second call still takes
	// the preprocessor path (one more call), but finds the object already
	// cached and never does a genuine recompile.
	require.Equal(t, 3, runner.calls, "preprocess only, artifact already cached")
}

func TestDispatchPassThroughOnNoSourceFile(t *testing.T) {
	d, runner, cwd := newTestDispatcher(t)
	argv := []string{"cl.exe", "/c"}

	outcome := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, outcome.ExitCode, "stderr: %s", outcome.Stderr)
	require.Equal(t, 1, runner.calls, "pass-through invokes the compiler exactly once")

	stats, err := d.Cache.Stats.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CallsWithoutSource)
}

func TestDispatchTrueMissPropagatesCompilerFailure(t *testing.T) {
	d, runner, cwd := newTestDispatcher(t)
	runner.exitCode = 2
	argv := []string{"cl.exe", "/c", "main.cpp"}

	outcome := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 2, outcome.ExitCode)
	require.Contains(t, string(outcome.Stderr), "compile failed")
}

func TestDispatchFanOutAggregatesWorstExitCode(t *testing.T) {
	d, _, cwd := newTestDispatcher(t)

	bPath := filepath.Join(cwd, "b.cpp")
	require.NoError(t, os.WriteFile(bPath, []byte("int b() { return 1; }"), 0o644))

	// one fake runner per fan-out slot would race on f.calls/exitCode; a
	// single shared runner is fine here since compileOne serializes its own
	// two or three calls and /MP1 forces the pool down to one job at a time.
	argv := []string{"cl.exe", "/c", "/MP1", "main.cpp", bPath}

	outcome := d.Dispatch(context.Background(), argv, cwd)
	require.Equal(t, 0, outcome.ExitCode, "both fake compiles succeed")
}

func TestJobCountScenarioS8(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want int
	}{
		{"no /MP at all", []string{"cl.exe", "/c", "a.cpp"}, 1},
		{"/MP with no value means logical CPUs", []string{"cl.exe", "/MP", "/c", "a.cpp"}, -1}, // sentinel, checked below
		{"/MP4 uses the given value", []string{"cl.exe", "/MP4", "/c", "a.cpp"}, 4},
		{"/MP0 collapses to 1", []string{"cl.exe", "/MP0", "/c", "a.cpp"}, 1},
		{"/MPfoo collapses to 1", []string{"cl.exe", "/MPfoo", "/c", "a.cpp"}, 1},
		{"last /MP wins", []string{"cl.exe", "/MP8", "/MP2", "/c", "a.cpp"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JobCount(tt.argv)
			if tt.want == -1 {
				require.GreaterOrEqual(t, got, 1)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}
