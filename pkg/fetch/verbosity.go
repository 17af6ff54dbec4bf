package fetch

// Verbosity selects how chatty the external tools are. The zero value means
// "unset": no verbosity flag is passed at all.
type Verbosity int

const (
	VerbosityNone Verbosity = iota
	Quiet
	Quieter
	Verbose
)

// Every tool has its own flag vocabulary, so the mapping is looked up per
// tool instead of globally. A missing entry means the tool gets no flag for
// that level.
var (
	curlFlags = map[Verbosity]string{
		Verbose: "-v",
		Quiet:   "-s",
		Quieter: "-s",
	}

	// tar has no quiet mode, it's silent unless asked otherwise
	tarFlags = map[Verbosity]string{
		Verbose: "-v",
	}

	unzipFlags = map[Verbosity]string{
		Verbose: "-v",
		Quiet:   "-q",
		Quieter: "-qq",
	}

	streamFlags = map[Verbosity]string{
		Verbose: "-v",
		Quiet:   "-q",
		Quieter: "-q",
	}
)
