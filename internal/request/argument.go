// Package request turns a cl.exe-style command line into a ParsedRequest and
// classifies whether the invocation is one this cache can serve.
package request

import "strings"

// ArgVariant is the closed tagged variant for how an option's parameter is
// attached to it on the command line (spec §3, CompilerArgument). A single
// `parse` operation per variant (see applyVariant) replaces what would
// otherwise be a class hierarchy with per-subclass parsing.
type ArgVariant int

const (
	// ArgFlag is a boolean switch that never takes a parameter (/c, /nologo, /EHsc).
	ArgFlag ArgVariant = iota
	// ArgT1 is required-attached: the parameter must follow the option name
	// directly in the same token and must be non-empty (/Obn).
	ArgT1
	// ArgT2 is optional-attached: the parameter may follow the option name
	// directly, possibly empty (/doc[name]).
	ArgT2
	// ArgT3 is required-with-optional-space: the parameter is either attached
	// or, if the attachment is empty, the following token (/I dir or /Idir).
	ArgT3
	// ArgT4 is required-with-forced-space: the parameter is always the
	// following token, regardless of any attached text.
	ArgT4
)

// argSpec describes one recognized option prefix and how its parameter is
// consumed. Equality/identity of a CompilerArgument is by (variant, name).
type argSpec struct {
	name         string
	variant      ArgVariant
	registersSrc bool // /Tc, /Tp: the parameter also becomes a source file
}

// argTable is the classifier's static table of recognized option prefixes.
// /Fo is deliberately ArgT2: cl.exe itself is inconsistent about whether its
// parameter is attached or requires a following token, and the observed
// behavior (optional attached parameter, directory-aware) is what this spec
// preserves rather than "fixes" (spec §9 design notes).
var argTable = []argSpec{
	{name: "/Fo", variant: ArgT2},
	{name: "/Fd", variant: ArgT2},
	{name: "/Fe", variant: ArgT2},
	{name: "/Fp", variant: ArgT2},
	{name: "/Yc", variant: ArgT2},
	{name: "/Yu", variant: ArgT2},
	{name: "/FI", variant: ArgT4},
	{name: "/Tc", variant: ArgT3, registersSrc: true},
	{name: "/Tp", variant: ArgT3, registersSrc: true},
	{name: "/I", variant: ArgT3},
	{name: "/D", variant: ArgT3},
	{name: "/U", variant: ArgT3},
	{name: "/Ob", variant: ArgT1},
}

// longestPrefixMatch returns the argSpec whose name is the longest prefix of
// arg, if any matches.
func longestPrefixMatch(arg string) (argSpec, bool) {
	var best argSpec
	found := false
	for _, spec := range argTable {
		if strings.HasPrefix(arg, spec.name) {
			if !found || len(spec.name) > len(best.name) {
				best = spec
				found = true
			}
		}
	}
	return best, found
}

// applyVariant consumes arg's parameter per its variant's rule, possibly
// advancing *idx past a following token. ok is false when the variant's
// parameter requirement wasn't satisfied (invalid argument).
func applyVariant(spec argSpec, arg string, argv []string, idx *int) (value string, ok bool) {
	attached := strings.TrimPrefix(arg, spec.name)

	switch spec.variant {
	case ArgT1:
		if attached == "" {
			return "", false
		}
		return attached, true

	case ArgT2:
		return attached, true

	case ArgT3:
		if attached != "" {
			return attached, true
		}
		if *idx+1 < len(argv) {
			*idx++
			return argv[*idx], true
		}
		return "", false

	case ArgT4:
		if *idx+1 < len(argv) {
			*idx++
			return argv[*idx], true
		}
		return "", false

	default:
		return "", false
	}
}
