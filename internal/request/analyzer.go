package request

import (
	"fmt"
	"os"
)

// ErrorKind is the closed taxonomy of reasons an invocation isn't cacheable
// (spec §7). Re-architected per spec §9 design notes as a result type the
// Dispatcher switches on once, instead of exceptions raised mid-parse.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrUnsupportedEnvironment
	ErrNoSourceFile
	ErrMultipleSourceFilesComplex
	ErrCalledForLink
	ErrCalledForPreprocessing
	ErrCalledForPch
	ErrCalledForExternalDebugInfo
	ErrInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnsupportedEnvironment:
		return "UnsupportedEnvironment"
	case ErrNoSourceFile:
		return "NoSourceFile"
	case ErrMultipleSourceFilesComplex:
		return "MultipleSourceFilesComplex"
	case ErrCalledForLink:
		return "CalledForLink"
	case ErrCalledForPreprocessing:
		return "CalledForPreprocessing"
	case ErrCalledForPch:
		return "CalledForPch"
	case ErrCalledForExternalDebugInfo:
		return "CalledForExternalDebugInfo"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return "None"
	}
}

// AnalysisError maps one uncacheable invocation to a specific taxonomy
// member and a human-readable reason; the Dispatcher increments exactly one
// counter per Kind (spec §8 invariant).
type AnalysisError struct {
	Kind    ErrorKind
	Message string
}

func (e *AnalysisError) Error() string {
	return e.Message
}

// errorPriority ranks taxonomy members from spec §4.2 (higher wins when more
// than one condition holds at once). UnsupportedEnvironment is checked
// separately, before classification even runs: CL/_CL_ affect every flag
// silently, so there's nothing classification-specific to rank it against.
var errorPriority = map[ErrorKind]int{
	ErrNoSourceFile:               7,
	ErrMultipleSourceFilesComplex: 6,
	ErrCalledForLink:              5,
	ErrCalledForPreprocessing:     4,
	ErrCalledForPch:               3,
	ErrCalledForExternalDebugInfo: 2,
	ErrInvalidArgument:            1,
}

// Analyzer combines the Lexer, the Classifier, and the environment check
// into one cacheable/pass-through/fail decision (spec §4.9).
type Analyzer struct {
	LookupEnv func(string) string
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{LookupEnv: os.Getenv}
}

// Analyze classifies argv (argv[0] is the compiler name, as with os.Args).
// On success it returns a ParsedRequest describing exactly one cacheable
// compilation. On failure, it returns the highest-priority reason and the
// caller should pass the invocation through to the real compiler unchanged.
func (a *Analyzer) Analyze(argv []string, cwd string) (*ParsedRequest, *AnalysisError) {
	return a.analyzeWithFileReader(argv, cwd, os.ReadFile)
}

func (a *Analyzer) analyzeWithFileReader(argv []string, cwd string, readFile func(string) ([]byte, error)) (*ParsedRequest, *AnalysisError) {
	if environmentInjectsHiddenFlags(a.LookupEnv) {
		return nil, &AnalysisError{
			Kind:    ErrUnsupportedEnvironment,
			Message: "CL or _CL_ is set: hidden flags may be injected into the invocation",
		}
	}

	expanded, err := expandResponseFiles(argv, readFile)
	if err != nil {
		return nil, &AnalysisError{Kind: ErrInvalidArgument, Message: err.Error()}
	}

	result := classify(expanded, cwd)

	type candidate struct {
		kind    ErrorKind
		present bool
		message string
	}
	candidates := []candidate{
		{ErrNoSourceFile, len(result.request.SourceFiles) == 0, "no source file specified"},
		{ErrMultipleSourceFilesComplex, result.hasComplexSourceMix, "multiple source files combined with /Tc or /Tp can't be fanned out"},
		{ErrCalledForLink, !result.hasCompileFlag, "invocation has no /c: it's a link step"},
		{ErrCalledForPreprocessing, result.hasPreprocessOnly, "invocation requests preprocessing only (/E, /P or /EP)"},
		{ErrCalledForPch, result.hasPchCreate, "invocation creates a precompiled header (/Yc)"},
		{ErrCalledForExternalDebugInfo, result.hasDebugInfo && result.hasDebugInfoFile, "invocation writes external debug info (/Zi or /ZI with /Fd)"},
		{ErrInvalidArgument, result.invalidArgument != "", fmt.Sprintf("missing required parameter for %s", result.invalidArgument)},
	}

	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.present {
			continue
		}
		if best == nil || errorPriority[c.kind] > errorPriority[best.kind] {
			best = c
		}
	}
	if best != nil {
		return nil, &AnalysisError{Kind: best.kind, Message: best.message}
	}

	return result.request, nil
}
