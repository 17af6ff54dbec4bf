package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nobuild/nob/pkg/console"
	"github.com/nobuild/nob/pkg/fetch"
	"github.com/nobuild/nob/pkg/fsutil"
)

type depSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string `yaml:"url"`
	Dest       string `yaml:"dest"`
	Sha256     string `yaml:"sha256,omitempty"`
	Post       string `yaml:"post,omitempty"`
}

type depConfig struct {
	Vars map[string]string  `yaml:"vars"`
	Deps map[string]depSpec `yaml:"deps"`
}

// depFetcher is swapped out by tests so fetch-deps can be exercised without
// spawning the real external tools.
var depFetcher = fetch.New()

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long: `Downloads and unpacks the dependencies listed in DEPS.yml at the
project root. Each entry is verified against its sha256 checksum and skipped
on later runs as long as the recorded stamp still matches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		console.Task("Loading config")
		root, err := fsutil.ProjectRoot()
		if err != nil {
			return err
		}

		cfg, cfgData, stamps, err := loadDepConfig(root)
		if err != nil {
			return err
		}

		console.Task("Downloading dependencies")
		err = fetchDeps(cmd, cfg, cfgData, stamps, root)

		stampData, jErr := json.Marshal(stamps)
		if jErr == nil {
			jErr = os.WriteFile(filepath.Join(root, "DEPS.stamps"), stampData, 0660)
		}
		if jErr != nil {
			console.Error(jErr.Error())
		}

		if err == nil {
			console.Task("Done")
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "update checksums in DEPS.yml")
	addVerbosityFlags(fetchDepsCmd)
}

func loadDepConfig(root string) (depConfig, string, map[string]string, error) {
	var cfg depConfig
	cfgPath := filepath.Join(root, "DEPS.yml")
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "could not open file %s", cfgPath)
	}

	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		return cfg, "", nil, eris.Wrapf(err, "failed to parse %s", cfgPath)
	}

	stamps := map[string]string{}
	stampPath := filepath.Join(root, "DEPS.stamps")
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return cfg, "", nil, eris.Wrapf(err, "failed to read stamps file %s", stampPath)
		}
	} else if err := json.Unmarshal(stampData, &stamps); err != nil {
		return cfg, "", nil, eris.Wrapf(err, "failed to parse %s", stampPath)
	}

	return cfg, string(cfgData), stamps, nil
}

var varPlaceholder = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

// evalConditions substitutes {VAR} placeholders in the URL and evaluates the
// if/ifNot variable lists. It returns false when the dependency doesn't
// apply to this platform.
func evalConditions(meta *depSpec, vars map[string]string) bool {
	meta.URL = varPlaceholder.ReplaceAllStringFunc(meta.URL, func(name string) string {
		return vars[name[1:len(name)-1]]
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		if condition == "" {
			continue
		}

		if vars[strings.TrimSpace(condition)] == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		if condition == "" {
			continue
		}

		if vars[strings.TrimSpace(condition)] != "" {
			return false
		}
	}

	return true
}

func platformVars(cfg depConfig) map[string]string {
	vars := map[string]string{}
	for k, v := range cfg.Vars {
		vars[k] = v
	}

	vars[runtime.GOOS] = "true"
	vars[runtime.GOARCH] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	return vars
}

func fetchDeps(cmd *cobra.Command, cfg depConfig, cfgData string, stamps map[string]string, root string) error {
	ctx := cmd.Context()
	update, err := cmd.Flags().GetBool("update")
	if err != nil {
		return err
	}

	verbosity := flagVerbosity(cmd)
	if verbosity == fetch.VerbosityNone {
		verbosity = fetch.Quiet
	}

	vars := platformVars(cfg)
	changes := map[string]string{}

	for name, meta := range cfg.Deps {
		// conditions are evaluated even in update mode because they also
		// resolve the variable placeholders
		skip := !evalConditions(&meta, vars)
		if skip && !update {
			continue
		}

		destPath := filepath.Join(root, meta.Dest)
		_, err := os.Stat(destPath)
		destExists := err == nil

		stampToken := meta.URL + "#" + meta.Sha256
		if stamp, ok := stamps[name]; ok && stamp == stampToken && destExists {
			continue
		}

		console.Subtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" && !update {
			return eris.Errorf("dependency %s doesn't have a checksum", name)
		}

		digest, installed, err := installDep(ctx, name, meta, destPath, verbosity, update, skip)
		if err != nil {
			return err
		}

		if digest != meta.Sha256 {
			console.Subtask("Updating checksum for " + name)
			changes[name] = digest
		}

		if installed {
			stamps[name] = stampToken
		}
	}

	if update && len(changes) > 0 {
		console.Task("Updating DEPS.yml")
		generated, err := applyChecksumChanges(cfgData, cfg, changes)
		if err != nil {
			return err
		}

		err = os.WriteFile(filepath.Join(root, "DEPS.yml"), []byte(generated), 0660)
		if err != nil {
			return eris.Wrap(err, "failed to write DEPS.yml")
		}
	}

	return nil
}

// installDep downloads, verifies and unpacks one dependency. The temporary
// download is cleaned up before the next dependency starts. installed is
// false for update-only passes over deps this platform doesn't use.
func installDep(ctx context.Context, name string, meta depSpec, destPath string, v fetch.Verbosity, update, skip bool) (string, bool, error) {
	archive, cleanup, err := downloadDep(ctx, meta.URL, v)
	if err != nil {
		return "", false, err
	}
	defer cleanup()

	digest, err := hashFile(archive)
	if err != nil {
		return "", false, err
	}

	if digest != meta.Sha256 && !update {
		return "", false, eris.Errorf("checksum mismatch for %s", name)
	}

	if skip {
		// update-only pass for a dependency this platform doesn't use
		return digest, false, nil
	}

	destInfo, err := os.Stat(destPath)
	if err == nil {
		console.Subtask("Remove " + destPath)
		if destInfo.IsDir() {
			err = fsutil.RemoveRecursive(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return "", false, err
		}
	}

	// container archives unpack into destPath itself, stream archives
	// decompress into the destPath file; either way the directory part has
	// to exist before the tool runs
	workDir := destPath
	if !fetch.ContainerFormat(archive) {
		workDir = filepath.Dir(destPath)
	}
	if err := fsutil.Mkdir(ctx, workDir); err != nil {
		return "", false, err
	}

	if err := depFetcher.Extract(ctx, archive, destPath, v); err != nil {
		return "", false, err
	}

	if meta.Post != "" {
		if err := runPostScript(ctx, name, workDir, meta.Post); err != nil {
			return "", false, err
		}
	}

	return digest, true, nil
}

// downloadDep fetches the archive into a temporary directory, keeping the
// URL's filename so extension dispatch still works.
func downloadDep(ctx context.Context, url string, v fetch.Verbosity) (string, func(), error) {
	name, err := fetch.ArchiveName(url)
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "nob-dep-")
	if err != nil {
		return "", nil, eris.Wrap(err, "failed to create a download directory")
	}
	cleanup := func() { os.RemoveAll(dir) }

	archive := filepath.Join(dir, name)
	if err := depFetcher.Download(ctx, url, archive, v); err != nil {
		cleanup()
		return "", nil, err
	}

	return archive, cleanup, nil
}

func hashFile(path string) (string, error) {
	handle, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "failed to open %s", path)
	}
	defer handle.Close()

	info, err := handle.Stat()
	if err != nil {
		return "", eris.Wrapf(err, "failed to check %s", path)
	}

	hash := sha256.New()
	bar := getProgressBar(info.Size(), "      verify")
	_, err = io.Copy(io.MultiWriter(hash, bar), handle)
	bar.Finish()
	if err != nil {
		return "", eris.Wrapf(err, "failed to hash %s", path)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		// progress output only clutters CI logs
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// findDepEntry locates the "name:" line of a dependency in the raw manifest
// text. Anchoring on the line boundary keeps the search from landing inside
// a URL or a longer dependency name.
func findDepEntry(generated, name string) int {
	needle := name + ":"
	offset := 0
	for {
		pos := strings.Index(generated[offset:], needle)
		if pos == -1 {
			return -1
		}
		pos += offset

		lineStart := strings.LastIndex(generated[:pos], "\n") + 1
		rest := generated[pos+len(needle):]
		onlyIndent := strings.TrimSpace(generated[lineStart:pos]) == ""
		atLineEnd := rest == "" || rest[0] == '\n' || rest[0] == '\r'
		if onlyIndent && atLineEnd {
			return pos
		}

		offset = pos + len(needle)
	}
}

// applyChecksumChanges rewrites the sha256 lines in the raw DEPS.yml text so
// comments and ordering survive an update.
func applyChecksumChanges(cfgData string, cfg depConfig, changes map[string]string) (string, error) {
	generated := cfgData
	for name, newChecksum := range changes {
		pos := findDepEntry(generated, name)
		if pos == -1 {
			return "", eris.Errorf("failed to find the section for %s", name)
		}

		old := cfg.Deps[name].Sha256
		if old == "" {
			// no checksum line yet, add one right after the entry's own line
			lineEnd := strings.Index(generated[pos:], "\n")
			if lineEnd == -1 {
				return "", eris.Errorf("failed to find the section for %s", name)
			}

			insertAt := pos + lineEnd + 1
			generated = generated[:insertAt] + "    sha256: " + newChecksum + "\n" + generated[insertAt:]
			continue
		}

		subPos := strings.Index(generated[pos:], "sha256: "+old)
		if subPos == -1 {
			return "", eris.Errorf("failed to find the checksum line for %s", name)
		}

		start := pos + subPos + len("sha256: ")
		generated = generated[:start] + newChecksum + generated[start+len(old):]
	}

	return generated, nil
}
