// Package fetch acquires dependency archives by composing external tool
// invocations: curl for transfers, tar/unzip/gunzip/bzip2/xz for extraction.
// Nothing is decompressed in-process; the package only builds argument
// vectors and inspects exit statuses.
package fetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/nobuild/nob/pkg/fsutil"
	"github.com/nobuild/nob/pkg/proc"
)

// Expected failures callers branch on. Infrastructure failures (cannot
// spawn, cannot create the output file) are reported as ordinary wrapped
// errors instead.
var (
	// ErrToolFailed means the external tool ran but exited non-zero.
	ErrToolFailed = eris.New("external tool exited with a non-zero status")

	// ErrUnknownFormat means no extractor is registered for the archive's
	// suffix chain. No tool is invoked in that case.
	ErrUnknownFormat = eris.New("archive format not supported")
)

// Fetcher composes proc.Command invocations. The two run hooks exist so
// tests can record the argument vectors instead of spawning real tools;
// both default to the plain Command methods.
type Fetcher struct {
	Run        func(ctx context.Context, cmd *proc.Command) (int, error)
	RunCapture func(ctx context.Context, cmd *proc.Command, sink io.Writer) (int, error)
}

// New returns a Fetcher that actually spawns the external tools.
func New() *Fetcher {
	return &Fetcher{
		Run: func(ctx context.Context, cmd *proc.Command) (int, error) {
			return cmd.RunSync(ctx)
		},
		RunCapture: func(ctx context.Context, cmd *proc.Command, sink io.Writer) (int, error) {
			return cmd.RunSyncCapture(ctx, sink)
		},
	}
}

var defaultFetcher = New()

// Download fetches url with curl, following redirects. With a non-empty
// dest the file lands there, otherwise curl picks the name from the URL.
func Download(ctx context.Context, rawURL, dest string, v Verbosity) error {
	return defaultFetcher.Download(ctx, rawURL, dest, v)
}

// Extract unpacks the archive at path, dispatching on its suffix chain.
func Extract(ctx context.Context, archive, dest string, v Verbosity) error {
	return defaultFetcher.Extract(ctx, archive, dest, v)
}

// DownloadAndExtract downloads url into the current directory and unpacks
// the result.
func DownloadAndExtract(ctx context.Context, rawURL, dest string, v Verbosity) error {
	return defaultFetcher.DownloadAndExtract(ctx, rawURL, dest, v)
}

func (f *Fetcher) Download(ctx context.Context, rawURL, dest string, v Verbosity) error {
	cmd := proc.New("curl", "-L")
	if flag, ok := curlFlags[v]; ok {
		cmd.Add(flag)
	}

	if dest != "" {
		cmd.Add("-o", dest)
	} else {
		// let curl derive the name from the URL
		cmd.Add("-O")
	}
	cmd.Add(rawURL)

	return f.checkedRun(ctx, cmd, "download of "+rawURL)
}

func (f *Fetcher) Extract(ctx context.Context, archive, dest string, v Verbosity) error {
	fm, ok := detectFormat(archive)
	if !ok {
		return eris.Wrapf(ErrUnknownFormat, "no extractor matches %s", archive)
	}

	switch {
	case fm.compound:
		if dest == "" {
			dest = stripFormat(archive, fm)
		}
		return f.extractTar(ctx, fm, archive, dest, v)
	case fm.stream:
		return f.extractStream(ctx, fm, archive, dest, v)
	default:
		if dest == "" {
			dest = stripFormat(archive, fm)
		}
		return f.extractZip(ctx, archive, dest, v)
	}
}

func (f *Fetcher) DownloadAndExtract(ctx context.Context, rawURL, dest string, v Verbosity) error {
	name, err := ArchiveName(rawURL)
	if err != nil {
		return err
	}

	if err := f.Download(ctx, rawURL, name, v); err != nil {
		return err
	}

	fm, known := detectFormat(name)
	target := dest
	if target == "" && known {
		target = stripFormat(name, fm)
	}

	if target == name {
		// nothing stops the archive and its extraction target from being
		// the same path; at least make the collision visible
		zerolog.Ctx(ctx).Warn().
			Msgf("archive %s and extraction destination are the same path", name)
	}

	// tar won't create its -C directory, so compound targets are created
	// up front; explicitly requested destinations always are.
	if target != "" && (dest != "" || (known && fm.compound)) {
		if err := fsutil.Mkdir(ctx, target); err != nil {
			return err
		}
	}

	return f.Extract(ctx, name, target, v)
}

// extractTar handles the compound formats with one combined tar invocation
// that both decompresses and unpacks.
func (f *Fetcher) extractTar(ctx context.Context, fm format, archive, dest string, v Verbosity) error {
	cmd := proc.New("tar", "-x", fm.tarFlag)
	if flag, ok := tarFlags[v]; ok {
		cmd.Add(flag)
	}

	cmd.Add("-f", archive)
	if dest != "" {
		cmd.Add("-C", dest)
	}

	return f.checkedRun(ctx, cmd, "extraction of "+archive)
}

func (f *Fetcher) extractZip(ctx context.Context, archive, dest string, v Verbosity) error {
	cmd := proc.New("unzip")
	if flag, ok := unzipFlags[v]; ok {
		cmd.Add(flag)
	}

	cmd.Add(archive)
	if dest != "" {
		cmd.Add("-d", dest)
	}

	return f.checkedRun(ctx, cmd, "extraction of "+archive)
}

// extractStream handles the plain decompressors. They can only write a
// single output stream, so an explicit destination is produced by capturing
// the tool's stdout into a file we open ourselves.
func (f *Fetcher) extractStream(ctx context.Context, fm format, archive, dest string, v Verbosity) error {
	cmd := proc.New(fm.tool)
	if fm.tool != "gunzip" {
		cmd.Add("-d")
	}
	// keep the compressed original around
	cmd.Add("-k")
	if flag, ok := streamFlags[v]; ok {
		cmd.Add(flag)
	}

	if dest == "" {
		cmd.Add(archive)
		return f.checkedRun(ctx, cmd, "extraction of "+archive)
	}

	cmd.Add("-c", archive)
	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer out.Close()

	status, err := f.RunCapture(ctx, cmd, out)
	if err != nil {
		return err
	}
	if status != 0 {
		return eris.Wrapf(ErrToolFailed, "extraction of %s failed with status %d", archive, status)
	}

	return eris.Wrapf(out.Close(), "failed to flush %s", dest)
}

func (f *Fetcher) checkedRun(ctx context.Context, cmd *proc.Command, what string) error {
	status, err := f.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if status != 0 {
		return eris.Wrapf(ErrToolFailed, "%s failed with status %d", what, status)
	}

	return nil
}

// ArchiveName derives the local filename from the URL's final path segment.
func ArchiveName(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "failed to parse URL %s", rawURL)
	}

	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("cannot derive an archive name from %s", rawURL)
	}

	return name, nil
}
