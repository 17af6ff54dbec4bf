package fetch

import "strings"

// format describes one recognized archive suffix chain and the external tool
// that handles it. Compound formats (container + compression) go through a
// single tar invocation; stream formats are plain decompressors that can
// only write one output stream.
type format struct {
	suffix   string
	tool     string
	tarFlag  string
	compound bool
	stream   bool
}

// Adding a format is a data change: append an entry here. Resolution is by
// longest matching suffix, so .tar.gz never falls through to the bare .gz
// entry.
var formats = []format{
	{suffix: ".tar.gz", tool: "tar", tarFlag: "-z", compound: true},
	{suffix: ".tar.bz2", tool: "tar", tarFlag: "-j", compound: true},
	{suffix: ".tar.xz", tool: "tar", tarFlag: "-J", compound: true},
	{suffix: ".tgz", tool: "tar", tarFlag: "-z", compound: true},
	{suffix: ".zip", tool: "unzip"},
	{suffix: ".gz", tool: "gunzip", stream: true},
	{suffix: ".bz2", tool: "bzip2", stream: true},
	{suffix: ".xz", tool: "xz", stream: true},
}

func detectFormat(name string) (format, bool) {
	var best format
	found := false
	for _, f := range formats {
		if strings.HasSuffix(name, f.suffix) && len(f.suffix) > len(best.suffix) {
			best = f
			found = true
		}
	}

	return best, found
}

// stripFormat removes the recognized suffix chain from an archive name,
// turning archive.tar.gz into archive.
func stripFormat(name string, f format) string {
	return strings.TrimSuffix(name, f.suffix)
}

// ContainerFormat reports whether name resolves to an archive that unpacks
// into a directory. Stream formats decompress into a single file instead,
// and unrecognized names count as neither.
func ContainerFormat(name string) bool {
	fm, ok := detectFormat(name)
	return ok && !fm.stream
}
