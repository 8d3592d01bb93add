package request

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/webmaster128/clcache/internal/lexer"
)

// ParsedRequest is the structured result of classifying one cl.exe command
// line (spec §3). Arguments is a multimap: most options are stored once, but
// nothing prevents a repeated /D from appearing twice.
type ParsedRequest struct {
	Arguments    map[string][]string
	InputFiles   []string
	SourceFiles  []string
	OutputObject string

	// Argv is the fully response-file-expanded argument list (argv[1:]),
	// kept around so the Dispatcher can re-invoke the real compiler with a
	// couple of flags added or swapped (e.g. /showIncludes, /EP) without
	// having to reconstruct a command line from the semantic Arguments map.
	Argv []string
}

// AbsPath resolves relPath against cwd the way cl.exe itself would, leaving
// an already-absolute path untouched. ParsedRequest stores paths as-is from
// the command line; callers that need to open a file resolve them with this.
func AbsPath(cwd string, relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(cwd, relPath)
}

var sourceExtensions = []string{".c", ".cpp", ".cxx", ".cc"}

func isSourceFileName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, sourceExt := range sourceExtensions {
		if ext == sourceExt {
			return true
		}
	}
	return false
}

// isOptionToken reports whether arg should be interpreted against the
// argument table rather than treated as a file name.
func isOptionToken(arg string) bool {
	return len(arg) > 0 && (arg[0] == '/' || arg[0] == '-')
}

// expandResponseFiles replaces every `@file` token with the tokens obtained
// by lexing that file's contents (spec §4.2 step 1), recursively, so a
// response file may itself reference another one.
func expandResponseFiles(argv []string, readFile func(string) ([]byte, error)) ([]string, error) {
	expanded := make([]string, 0, len(argv))
	for _, arg := range argv {
		if len(arg) > 1 && arg[0] == '@' {
			contents, err := readFile(arg[1:])
			if err != nil {
				return nil, fmt.Errorf("reading response file %s: %w", arg[1:], err)
			}
			nested, err := expandResponseFiles(lexer.Lex(string(contents)), readFile)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, nested...)
			continue
		}
		expanded = append(expanded, arg)
	}
	return expanded, nil
}

// classifyResult carries every condition the Analyzer needs to pick the
// highest-priority error (spec §4.2); conditions are computed independently
// of each other so the parse always completes in one pass.
type classifyResult struct {
	request             *ParsedRequest
	hasCompileFlag      bool // /c
	hasPreprocessOnly   bool // /E, /P, /EP
	hasPchCreate        bool // /Yc
	hasDebugInfo        bool // /Zi or /ZI
	hasDebugInfoFile    bool // /Fd
	hasComplexSourceMix bool // multiple sources plus a /Tc or /Tp
	invalidArgument     string
}

// classify walks argv left-to-right per spec §4.2 and builds a ParsedRequest
// plus every condition needed to rank errors by priority afterwards.
func classify(argv []string, cwd string) classifyResult {
	result := classifyResult{
		request: &ParsedRequest{
			Arguments:  make(map[string][]string),
			InputFiles: make([]string, 0, 4),
			Argv:       append([]string(nil), argv[1:]...),
		},
	}

	tcTpCount := 0

	for i := 1; i < len(argv); i++ {
		arg := argv[i]
		if arg == "" {
			continue
		}

		if isOptionToken(arg) {
			if arg == "/c" {
				result.hasCompileFlag = true
				result.request.Arguments[arg] = nil
				continue
			}
			if arg == "/E" || arg == "/P" || arg == "/EP" {
				result.hasPreprocessOnly = true
				result.request.Arguments[arg] = nil
				continue
			}
			if arg == "/Zi" || arg == "/ZI" {
				result.hasDebugInfo = true
				result.request.Arguments[arg] = nil
				continue
			}

			if spec, found := longestPrefixMatch(arg); found {
				value, ok := applyVariant(spec, arg, argv, &i)
				if !ok {
					if result.invalidArgument == "" {
						result.invalidArgument = arg
					}
					continue
				}

				result.request.Arguments[spec.name] = append(result.request.Arguments[spec.name], value)

				switch spec.name {
				case "/Fo":
					result.request.OutputObject = value
				case "/Fd":
					result.hasDebugInfoFile = true
				case "/Yc":
					result.hasPchCreate = true
				case "/Tc", "/Tp":
					tcTpCount++
					result.request.InputFiles = append(result.request.InputFiles, value)
					result.request.SourceFiles = append(result.request.SourceFiles, value)
				}
				continue
			}

			// unrecognized switch: keep it as a bare flag, don't guess its shape
			result.request.Arguments[arg] = nil
			continue
		}

		// not an option token: a file name, kept as-is from the command line
		result.request.InputFiles = append(result.request.InputFiles, arg)
		if isSourceFileName(arg) {
			result.request.SourceFiles = append(result.request.SourceFiles, arg)
		}
	}

	if tcTpCount > 0 && len(result.request.SourceFiles) > 1 {
		result.hasComplexSourceMix = true
	}

	if result.request.OutputObject == "" {
		result.request.OutputObject = deriveDefaultOutputObject(result.request.SourceFiles)
	} else {
		result.request.OutputObject = resolveOutputObject(result.request.OutputObject, result.request.SourceFiles, cwd)
	}

	return result
}

// ObjectPathForSource derives the output object path for one particular
// source file of req. For a single-source request this is just
// req.OutputObject; for a fanned-out /MP request (spec §4.8) each source
// gets its own "<basename>.obj", placed under /Fo's directory when /Fo named
// one.
func ObjectPathForSource(req *ParsedRequest, sourcePath string) string {
	if len(req.SourceFiles) == 1 {
		return req.OutputObject
	}

	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	objName := base[:len(base)-len(ext)] + ".obj"

	if fo, ok := req.Arguments["/Fo"]; ok && len(fo) > 0 && fo[0] != "" {
		normalized := strings.ReplaceAll(fo[0], "/", `\`)
		if !strings.HasSuffix(normalized, `\`) {
			normalized += `\`
		}
		return normalized + objName
	}
	return objName
}

// deriveDefaultOutputObject implements spec §4.2 step 4's fallback: with no
// /Fo, the object is named after the single source file with a .obj
// extension in the current directory.
func deriveDefaultOutputObject(sourceFiles []string) string {
	if len(sourceFiles) != 1 {
		return ""
	}
	base := filepath.Base(sourceFiles[0])
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + ".obj"
}

// resolveOutputObject implements spec §4.2 step 4's /Fo<path> handling:
// separators are normalized to backslash, and a path ending in a separator
// or naming an existing directory gets "<basename(source)>.obj" appended.
func resolveOutputObject(foValue string, sourceFiles []string, cwd string) string {
	normalized := strings.ReplaceAll(foValue, "/", `\`)

	isDirLike := strings.HasSuffix(normalized, `\`)
	if !isDirLike {
		checkPath := normalized
		if !filepath.IsAbs(checkPath) {
			checkPath = filepath.Join(cwd, checkPath)
		}
		if stat, err := os.Stat(checkPath); err == nil && stat.IsDir() {
			isDirLike = true
		}
	}

	if !isDirLike {
		return normalized
	}

	baseName := "out.obj"
	if len(sourceFiles) == 1 {
		base := filepath.Base(sourceFiles[0])
		ext := filepath.Ext(base)
		baseName = base[:len(base)-len(ext)] + ".obj"
	}
	if !strings.HasSuffix(normalized, `\`) {
		normalized += `\`
	}
	return normalized + baseName
}
