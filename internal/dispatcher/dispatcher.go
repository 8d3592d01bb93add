package dispatcher

import (
	"context"
	"sync"

	"github.com/webmaster128/clcache/internal/cache"
	"github.com/webmaster128/clcache/internal/common"
	"github.com/webmaster128/clcache/internal/includes"
	"github.com/webmaster128/clcache/internal/request"
)

// Outcome is what one wrapper invocation reports back to its caller: an
// exit code and the bytes to replay on stdout/stderr (spec §6 process
// interface).
type Outcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Dispatcher is the top-level collaborator the wrapper's main() constructs
// once per invocation: it owns the CacheRoot and the resolved Compiler
// outright, with no cyclic ownership back into either (spec §9).
type Dispatcher struct {
	Cache    *cache.CacheRoot
	Compiler Runner

	// CompilerPath identifies the real compiler binary for key derivation
	// (CompilerIdentity stats it by path). Kept separate from Compiler since
	// Runner itself doesn't expose a path.
	CompilerPath string
}

func New(cacheRoot *cache.CacheRoot, compiler *Compiler) *Dispatcher {
	return &Dispatcher{Cache: cacheRoot, Compiler: compiler, CompilerPath: compiler.Path}
}

// Dispatch runs one full wrapper invocation: analysis, then direct mode,
// preprocessor fallback, true miss, /MP fan-out, or pass-through, whichever
// applies (spec §4.8).
func (d *Dispatcher) Dispatch(ctx context.Context, argv []string, cwd string) Outcome {
	analyzer := request.NewAnalyzer()
	parsed, analysisErr := analyzer.Analyze(argv, cwd)
	if analysisErr != nil {
		return d.passThrough(ctx, argv, cwd, analysisErr)
	}

	if len(parsed.SourceFiles) > 1 {
		return d.fanOut(ctx, parsed, cwd)
	}
	return d.compileOne(ctx, parsed, cwd)
}

// passThrough executes the compiler with the invocation's own argv
// unchanged, forwarding its exit code and output verbatim, and counts the
// reason the call wasn't cacheable (spec §4.8 "Pass-through").
func (d *Dispatcher) passThrough(ctx context.Context, argv []string, cwd string, analysisErr *request.AnalysisError) Outcome {
	d.recordAnalysisError(analysisErr)

	result, err := d.Compiler.Run(ctx, cwd, argv[1:])
	if err != nil {
		return Outcome{ExitCode: InternalFailureExitCode, Stderr: []byte(err.Error())}
	}
	return Outcome{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
}

func (d *Dispatcher) recordAnalysisError(analysisErr *request.AnalysisError) {
	_, _ = d.Cache.Stats.Update(func(s *cache.Statistics) {
		switch analysisErr.Kind {
		case request.ErrNoSourceFile:
			s.CallsWithoutSource++
		case request.ErrCalledForLink:
			s.CallsForLinking++
		case request.ErrCalledForPch:
			s.CallsWithPch++
		case request.ErrCalledForPreprocessing:
			s.CallsForPreprocessing++
		case request.ErrInvalidArgument, request.ErrMultipleSourceFilesComplex:
			s.CallsWithInvalidArgs++
		case request.ErrUnsupportedEnvironment:
			s.CallsWithUnsupportedEnv++
		case request.ErrCalledForExternalDebugInfo:
			s.CallsForExternalDebugInfo++
		}
	})
}

// compileOne runs the full direct-mode -> preprocessor-mode -> true-miss
// flow for a single cacheable source file (spec §4.8 steps 1-3).
func (d *Dispatcher) compileOne(ctx context.Context, parsed *request.ParsedRequest, cwd string) Outcome {
	compilerID, err := CompilerIdentity(d.CompilerPath)
	if err != nil {
		return d.internalFailure(err)
	}
	argsDigest := NormalizedArgsDigest(parsed.Arguments, d.Cache.NormalizeBaseDir)
	sourcePath := request.AbsPath(cwd, parsed.SourceFiles[0])
	objectPath := request.AbsPath(cwd, request.ObjectPathForSource(parsed, parsed.SourceFiles[0]))

	manifestKey, err := ManifestKey(compilerID, argsDigest, sourcePath, d.Cache.NormalizeBaseDir(sourcePath))
	if err != nil {
		return d.internalFailure(err)
	}

	manifest, _ := d.Cache.Manifests.Load(manifestKey.String())

	if !d.Cache.NoDirect && manifest != nil {
		if includesHash, err := IncludesContentHash(manifest.IncludeFiles); err == nil {
			if objectKey, ok := manifest.Entries[includesHash.String()]; ok {
				if outcome, ok := d.replay(objectKey, objectPath); ok {
					d.recordHit()
					return outcome
				}
			}
		}
	}

	return d.preprocessOrCompile(ctx, parsed, cwd, compilerID, argsDigest, manifestKey, manifest, objectPath)
}

// preprocessOrCompile implements spec §4.8 steps 2 and 3: preprocess to
// discover an object key without a fresh real compile, falling back to a
// genuine compile when even that misses.
func (d *Dispatcher) preprocessOrCompile(
	ctx context.Context,
	parsed *request.ParsedRequest,
	cwd string,
	compilerID, argsDigest common.Digest,
	manifestKey common.Digest,
	existingManifest *cache.Manifest,
	objectPath string,
) Outcome {
	preArgs := append(append([]string{}, parsed.Argv...), "/EP", "/showIncludes")
	preResult, err := d.Compiler.Run(ctx, cwd, preArgs)
	if err != nil {
		return d.internalFailure(err)
	}
	if preResult.ExitCode != 0 {
		// the preprocessor step itself failed (rare); fall through to a real
		// compile and let its own exit code/diagnostics surface to the caller
		return d.trueMiss(ctx, parsed, cwd, compilerID, argsDigest, manifestKey, existingManifest, "", objectPath)
	}

	objectKey := ObjectKeyFromText(compilerID, argsDigest, preResult.Stdout)

	if stdout, stderr, ok, err := d.Cache.Artifacts.Load(objectKey.String()); err == nil && ok {
		if restoreErr := d.Cache.Artifacts.Restore(objectKey.String(), objectPath, d.Cache.Hardlink); restoreErr == nil {
			headerPaths, _ := includes.Parse(preResult.Stderr)
			d.insertManifestEntry(manifestKey, existingManifest, absolutize(cwd, headerPaths), objectKey.String())
			d.recordHit()
			return Outcome{ExitCode: 0, Stdout: stdout, Stderr: stderr}
		}
	}

	return d.trueMiss(ctx, parsed, cwd, compilerID, argsDigest, manifestKey, existingManifest, objectKey.String(), objectPath)
}

// trueMiss runs the real compiler for real, stores the resulting artifact
// and manifest entry, and classifies which miss partition to count (spec
// §4.8 step 3). knownObjectKey carries over the object key already derived
// from the preprocessor-mode attempt in preprocessOrCompile, so the same
// content hashes to the same key whichever path discovered it; it's empty
// only when preprocessing itself failed, in which case the header-content
// hash stands in.
func (d *Dispatcher) trueMiss(
	ctx context.Context,
	parsed *request.ParsedRequest,
	cwd string,
	compilerID, argsDigest common.Digest,
	manifestKey common.Digest,
	existingManifest *cache.Manifest,
	knownObjectKey string,
	objectPath string,
) Outcome {
	args := append(append([]string{}, parsed.Argv...), "/showIncludes")
	result, err := d.Compiler.Run(ctx, cwd, args)
	if err != nil {
		return d.internalFailure(err)
	}
	if result.ExitCode != 0 {
		return Outcome{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
	}

	headerPaths, strippedStdout := includes.Parse(result.Stdout)
	absHeaders := absolutize(cwd, headerPaths)

	objectKey := knownObjectKey
	if objectKey == "" {
		fallbackDigest, ferr := IncludesContentHash(absHeaders)
		if ferr != nil {
			return d.internalFailure(ferr)
		}
		objectKey = ObjectKeyFromText(compilerID, argsDigest, []byte(fallbackDigest.String())).String()
	}

	if err := d.Cache.Artifacts.Save(objectKey, objectPath, strippedStdout, result.Stderr); err == nil {
		d.insertManifestEntry(manifestKey, existingManifest, absHeaders, objectKey)
	}
	d.recordMiss(existingManifest)
	_ = d.Cache.EvictIfNeeded()

	return Outcome{ExitCode: 0, Stdout: strippedStdout, Stderr: result.Stderr}
}

func (d *Dispatcher) insertManifestEntry(manifestKey common.Digest, existingManifest *cache.Manifest, headerPaths []string, objectKey string) {
	manifest := existingManifest
	if manifest == nil {
		manifest = &cache.Manifest{Entries: make(map[string]string)}
	}
	manifest.IncludeFiles = mergePreservingOrder(manifest.IncludeFiles, headerPaths)
	if manifest.Entries == nil {
		manifest.Entries = make(map[string]string)
	}
	includesHash, err := IncludesContentHash(manifest.IncludeFiles)
	if err != nil {
		return
	}
	manifest.Entries[includesHash.String()] = objectKey
	_ = d.Cache.Manifests.Save(manifestKey.String(), manifest)
}

func (d *Dispatcher) recordMiss(existingManifest *cache.Manifest) {
	_, _ = d.Cache.Stats.Update(func(s *cache.Statistics) {
		s.NumCacheMisses++
		switch {
		case existingManifest == nil:
			s.MissesSourceChanged++
		default:
			s.MissesHeaderChanged++
		}
	})
}

func (d *Dispatcher) replay(objectKey string, destPath string) (Outcome, bool) {
	stdout, stderr, ok, err := d.Cache.Artifacts.Load(objectKey)
	if err != nil || !ok {
		return Outcome{}, false
	}
	if err := d.Cache.Artifacts.Restore(objectKey, destPath, d.Cache.Hardlink); err != nil {
		return Outcome{}, false
	}
	return Outcome{ExitCode: 0, Stdout: stdout, Stderr: stderr}, true
}

func (d *Dispatcher) recordHit() {
	_, _ = d.Cache.Stats.Update(func(s *cache.Statistics) { s.CacheHits++ })
}

func (d *Dispatcher) internalFailure(err error) Outcome {
	return Outcome{ExitCode: InternalFailureExitCode, Stderr: []byte(err.Error())}
}

// fanOut splits a multi-source request into one compileOne per source file
// and runs them through a worker pool sized by /MP's job count (spec §4.8
// "/MP fan-out"). The aggregate exit code is the worst per-file code;
// outputs are kept in per-file chunks so concurrent compiles never
// interleave mid-line.
func (d *Dispatcher) fanOut(ctx context.Context, parsed *request.ParsedRequest, cwd string) Outcome {
	jobs := JobCount(parsed.Argv)
	pool := newThrottle(jobs)

	outcomes := make([]Outcome, len(parsed.SourceFiles))
	var wg sync.WaitGroup
	for i, sourceFile := range parsed.SourceFiles {
		wg.Add(1)
		go func(i int, sourceFile string) {
			defer wg.Done()
			pool.acquire()
			defer pool.release()

			perSource := &request.ParsedRequest{
				Arguments:    parsed.Arguments,
				InputFiles:   []string{sourceFile},
				SourceFiles:  []string{sourceFile},
				OutputObject: request.ObjectPathForSource(parsed, sourceFile),
				Argv:         singleSourceArgv(parsed.Argv, parsed.SourceFiles, sourceFile),
			}
			outcomes[i] = d.compileOne(ctx, perSource, cwd)
		}(i, sourceFile)
	}
	wg.Wait()

	aggregate := Outcome{}
	for _, o := range outcomes {
		if o.ExitCode > aggregate.ExitCode {
			aggregate.ExitCode = o.ExitCode
		}
		aggregate.Stdout = append(aggregate.Stdout, o.Stdout...)
		aggregate.Stderr = append(aggregate.Stderr, o.Stderr...)
	}
	return aggregate
}

// singleSourceArgv rewrites argv to compile only keepSource: every other
// source file token is dropped so the real compiler invoked for this fan-out
// slot only ever sees one source.
func singleSourceArgv(argv []string, allSources []string, keepSource string) []string {
	isOtherSource := make(map[string]bool, len(allSources))
	for _, s := range allSources {
		if s != keepSource {
			isOtherSource[s] = true
		}
	}

	filtered := make([]string, 0, len(argv))
	for _, arg := range argv {
		if isOtherSource[arg] {
			continue
		}
		filtered = append(filtered, arg)
	}
	return filtered
}

func mergePreservingOrder(existing []string, additional []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	merged := append([]string(nil), existing...)
	for _, a := range additional {
		if !seen[a] {
			seen[a] = true
			merged = append(merged, a)
		}
	}
	return merged
}

func absolutize(cwd string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = request.AbsPath(cwd, p)
	}
	return out
}
