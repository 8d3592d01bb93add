package request

// environmentInjectsHiddenFlags reports whether CL or _CL_ hold a non-empty
// value. cl.exe silently splices those into every invocation's flags; since
// this cache only ever observes argv, it cannot reliably account for them,
// so such calls are not cacheable (spec §4.3). An empty value is equivalent
// to unset.
func environmentInjectsHiddenFlags(lookupEnv func(string) string) bool {
	return lookupEnv("CL") != "" || lookupEnv("_CL_") != ""
}
