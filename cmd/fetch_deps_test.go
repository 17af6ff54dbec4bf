package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nobuild/nob/pkg/fetch"
	"github.com/nobuild/nob/pkg/proc"
)

func TestEvalConditions(t *testing.T) {
	vars := map[string]string{
		"linux":       "true",
		"SDL_VERSION": "2.30.0",
	}

	t.Run("placeholder substitution", func(t *testing.T) {
		meta := depSpec{URL: "https://host/SDL-{SDL_VERSION}.tar.gz"}
		assert.True(t, evalConditions(&meta, vars))
		assert.Equal(t, "https://host/SDL-2.30.0.tar.gz", meta.URL)
	})

	t.Run("unknown placeholder becomes empty", func(t *testing.T) {
		meta := depSpec{URL: "https://host/{NOPE}/a.zip"}
		assert.True(t, evalConditions(&meta, vars))
		assert.Equal(t, "https://host//a.zip", meta.URL)
	})

	t.Run("if requires all vars", func(t *testing.T) {
		meta := depSpec{Condition: "linux"}
		assert.True(t, evalConditions(&meta, vars))

		meta = depSpec{Condition: "linux, windows"}
		assert.False(t, evalConditions(&meta, vars))
	})

	t.Run("ifNot rejects set vars", func(t *testing.T) {
		meta := depSpec{Rejections: "windows"}
		assert.True(t, evalConditions(&meta, vars))

		meta = depSpec{Rejections: "linux"}
		assert.False(t, evalConditions(&meta, vars))
	})
}

const sampleManifest = `vars:
  SDL_VERSION: "2.30.0"

deps:
  sdl:
    url: https://host/SDL-{SDL_VERSION}.tar.gz
    dest: third_party/sdl
    sha256: 0000000000000000000000000000000000000000000000000000000000000000
  raylib:
    url: https://host/raylib-5.0.tar.gz
    dest: third_party/raylib
`

func TestApplyChecksumChanges(t *testing.T) {
	var cfg depConfig
	require.NoError(t, yaml.Unmarshal([]byte(sampleManifest), &cfg))

	changes := map[string]string{
		"sdl":    "1111111111111111111111111111111111111111111111111111111111111111",
		"raylib": "2222222222222222222222222222222222222222222222222222222222222222",
	}

	generated, err := applyChecksumChanges(sampleManifest, cfg, changes)
	require.NoError(t, err)

	var updated depConfig
	require.NoError(t, yaml.Unmarshal([]byte(generated), &updated))
	assert.Equal(t, changes["sdl"], updated.Deps["sdl"].Sha256)
	assert.Equal(t, changes["raylib"], updated.Deps["raylib"].Sha256)

	// everything else survives the textual surgery
	assert.Equal(t, cfg.Deps["sdl"].URL, updated.Deps["sdl"].URL)
	assert.Equal(t, cfg.Vars, updated.Vars)
}

func TestApplyChecksumChangesAnchorsOnEntryLine(t *testing.T) {
	// "sdl:" appears inside the libsdl entry name and inside a URL before
	// the real entry; the rewrite has to land on the entry line itself
	manifest := `deps:
  libsdl:
    url: https://mirror/sdl:archive/libsdl.tar.gz
    dest: third_party/libsdl
    sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
  sdl:
    url: https://host/sdl.tar.gz
    dest: third_party/sdl
    sha256: bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
`
	var cfg depConfig
	require.NoError(t, yaml.Unmarshal([]byte(manifest), &cfg))

	newSum := strings.Repeat("c", 64)
	generated, err := applyChecksumChanges(manifest, cfg, map[string]string{"sdl": newSum})
	require.NoError(t, err)

	var updated depConfig
	require.NoError(t, yaml.Unmarshal([]byte(generated), &updated))
	assert.Equal(t, newSum, updated.Deps["sdl"].Sha256)
	assert.Equal(t, cfg.Deps["libsdl"].Sha256, updated.Deps["libsdl"].Sha256)
	assert.Equal(t, cfg.Deps["libsdl"].URL, updated.Deps["libsdl"].URL)
}

func TestApplyChecksumChangesUnknownDep(t *testing.T) {
	var cfg depConfig
	require.NoError(t, yaml.Unmarshal([]byte(sampleManifest), &cfg))

	_, err := applyChecksumChanges(sampleManifest, cfg, map[string]string{"nope": "3333"})
	assert.Error(t, err)
}

func TestLoadDepConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "DEPS.yml"), []byte(sampleManifest), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(root, "DEPS.stamps"), []byte(`{"sdl":"https://host/x#abc"}`), 0660))

	cfg, cfgData, stamps, err := loadDepConfig(root)
	require.NoError(t, err)
	assert.Equal(t, sampleManifest, cfgData)
	assert.Equal(t, "third_party/sdl", cfg.Deps["sdl"].Dest)
	assert.Equal(t, "https://host/x#abc", stamps["sdl"])
}

func TestLoadDepConfigWithoutStamps(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "DEPS.yml"), []byte(sampleManifest), 0660))

	_, _, stamps, err := loadDepConfig(root)
	require.NoError(t, err)
	assert.Empty(t, stamps)
}

func TestLoadDepConfigMissingManifest(t *testing.T) {
	_, _, _, err := loadDepConfig(t.TempDir())
	assert.Error(t, err)
}

// depRecorder collects the argument vectors the stubbed tools would have
// been spawned with.
type depRecorder struct {
	runs     [][]string
	captures [][]string
}

// stubDepFetcher replaces the package fetcher with one that records every
// invocation instead of spawning tools. The stub's curl writes payload to
// the download target and the stub's capture path emits payload to the sink,
// so checksum verification sees real bytes.
func stubDepFetcher(t *testing.T, payload []byte) *depRecorder {
	t.Helper()

	rec := &depRecorder{}
	old := depFetcher
	depFetcher = &fetch.Fetcher{
		Run: func(ctx context.Context, cmd *proc.Command) (int, error) {
			tokens := cmd.Tokens()
			rec.runs = append(rec.runs, tokens)
			if tokens[0] == "curl" {
				for i, tok := range tokens {
					if tok == "-o" {
						require.NoError(t, os.WriteFile(tokens[i+1], payload, 0660))
					}
				}
			}
			return 0, nil
		},
		RunCapture: func(ctx context.Context, cmd *proc.Command, sink io.Writer) (int, error) {
			rec.captures = append(rec.captures, cmd.Tokens())
			_, err := sink.Write(payload)
			return 0, err
		},
	}
	t.Cleanup(func() { depFetcher = old })

	return rec
}

func testFetchCmd(t *testing.T) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{}
	cmd.Flags().BoolP("update", "u", false, "")
	addVerbosityFlags(cmd)
	cmd.SetContext(context.Background())

	return cmd
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFetchDepsSkipsStampedDeps(t *testing.T) {
	root := t.TempDir()
	cfg := depConfig{Deps: map[string]depSpec{
		"tool": {
			URL:    "https://host/tool.tar.gz",
			Dest:   "third_party/tool",
			Sha256: sha256Hex([]byte("unchanged")),
		},
	}}
	stamps := map[string]string{
		"tool": "https://host/tool.tar.gz#" + cfg.Deps["tool"].Sha256,
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "third_party", "tool"), 0770))

	rec := stubDepFetcher(t, nil)
	require.NoError(t, fetchDeps(testFetchCmd(t), cfg, "", stamps, root))

	// nothing was downloaded or extracted, the stamp survives untouched
	assert.Empty(t, rec.runs)
	assert.Empty(t, rec.captures)
	assert.Equal(t, "https://host/tool.tar.gz#"+cfg.Deps["tool"].Sha256, stamps["tool"])
}

func TestFetchDepsRefetchesWhenDestMissing(t *testing.T) {
	root := t.TempDir()
	payload := []byte("tarball bytes")
	cfg := depConfig{Deps: map[string]depSpec{
		"tool": {
			URL:    "https://host/tool.tar.gz",
			Dest:   "third_party/tool",
			Sha256: sha256Hex(payload),
		},
	}}
	stamps := map[string]string{
		"tool": "https://host/tool.tar.gz#" + cfg.Deps["tool"].Sha256,
	}

	rec := stubDepFetcher(t, payload)
	require.NoError(t, fetchDeps(testFetchCmd(t), cfg, "", stamps, root))

	require.Len(t, rec.runs, 2)
	assert.Equal(t, "curl", rec.runs[0][0])
	assert.Equal(t, "tar", rec.runs[1][0])
}

func TestFetchDepsInstallsVerifiedDep(t *testing.T) {
	root := t.TempDir()
	payload := []byte("tarball bytes")
	cfg := depConfig{Deps: map[string]depSpec{
		"tool": {
			URL:    "https://host/tool.tar.gz",
			Dest:   "third_party/tool",
			Sha256: sha256Hex(payload),
		},
	}}
	stamps := map[string]string{}

	rec := stubDepFetcher(t, payload)
	require.NoError(t, fetchDeps(testFetchCmd(t), cfg, "", stamps, root))

	destPath := filepath.Join(root, "third_party", "tool")
	require.Len(t, rec.runs, 2)
	assert.Equal(t, "curl", rec.runs[0][0])

	tarTokens := rec.runs[1]
	assert.Equal(t, "tar", tarTokens[0])
	assert.Equal(t, destPath, tarTokens[len(tarTokens)-1])

	info, err := os.Stat(destPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "https://host/tool.tar.gz#"+cfg.Deps["tool"].Sha256, stamps["tool"])
}

func TestFetchDepsChecksumMismatchAborts(t *testing.T) {
	root := t.TempDir()
	cfg := depConfig{Deps: map[string]depSpec{
		"tool": {
			URL:    "https://host/tool.tar.gz",
			Dest:   "third_party/tool",
			Sha256: strings.Repeat("0", 64),
		},
	}}
	stamps := map[string]string{}

	rec := stubDepFetcher(t, []byte("not what the manifest expects"))
	err := fetchDeps(testFetchCmd(t), cfg, "", stamps, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	// the download happened but nothing was extracted or stamped
	require.Len(t, rec.runs, 1)
	assert.Equal(t, "curl", rec.runs[0][0])
	assert.Empty(t, stamps)
	assert.NoDirExists(t, filepath.Join(root, "third_party", "tool"))
}

func TestFetchDepsMissingChecksumAborts(t *testing.T) {
	root := t.TempDir()
	cfg := depConfig{Deps: map[string]depSpec{
		"tool": {URL: "https://host/tool.tar.gz", Dest: "third_party/tool"},
	}}

	rec := stubDepFetcher(t, nil)
	err := fetchDeps(testFetchCmd(t), cfg, "", map[string]string{}, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't have a checksum")
	assert.Empty(t, rec.runs)
}

func TestFetchDepsStreamDepDecompressesToFile(t *testing.T) {
	root := t.TempDir()
	payload := []byte("raw data blob")
	cfg := depConfig{Deps: map[string]depSpec{
		"blob": {
			URL:    "https://host/data.bin.gz",
			Dest:   "third_party/data.bin",
			Sha256: sha256Hex(payload),
		},
	}}
	stamps := map[string]string{}

	rec := stubDepFetcher(t, payload)
	require.NoError(t, fetchDeps(testFetchCmd(t), cfg, "", stamps, root))

	require.Len(t, rec.captures, 1)
	assert.Equal(t, "gunzip", rec.captures[0][0])

	// the destination is the decompressed file itself, not a directory
	destPath := filepath.Join(root, "third_party", "data.bin")
	info, err := os.Stat(destPath)
	require.NoError(t, err)
	require.False(t, info.IsDir())

	written, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestPlatformVars(t *testing.T) {
	cfg := depConfig{Vars: map[string]string{"FOO": "bar"}}
	vars := platformVars(cfg)

	assert.Equal(t, "bar", vars["FOO"])
	// GOOS/GOARCH are always available as condition vars
	assert.Equal(t, "true", vars[runtime.GOOS])
	assert.Equal(t, "true", vars[runtime.GOARCH])
}
