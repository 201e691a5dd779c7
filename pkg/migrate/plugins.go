package migrate

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultPluginDirectoryURL is the public moodle plugin directory's
// pluginfo endpoint, used when the manifest carries no download URL.
const defaultPluginDirectoryURL = "https://download.moodle.org/api/1.3/pluginfo.php"

type pluginInstaller struct {
	moodleDir    string
	directoryURL string
	client       *http.Client
}

func newPluginInstaller(moodleDir, directoryURL string, timeout time.Duration) *pluginInstaller {
	if directoryURL == "" {
		directoryURL = defaultPluginDirectoryURL
	}
	return &pluginInstaller{
		moodleDir:    moodleDir,
		directoryURL: directoryURL,
		client:       &http.Client{Timeout: timeout},
	}
}

// reconcile installs every declared plugin that is missing from the
// target. Core components and already-present components are skipped.
// Failures are collected per plugin, never aborting the rest.
func (pi *pluginInstaller) reconcile(ctx context.Context, declared []Plugin, progress func(step, msg string)) (installed int, failures []string) {
	for _, p := range declared {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p.Component, err))
			return installed, failures
		}
		if isCoreComponent(p.Component) {
			continue
		}
		if v := InstalledVersion(pi.moodleDir, p.Component); v != "" {
			progress("skip", fmt.Sprintf("%s already installed (version %s)", p.Component, v))
			continue
		}
		if err := pi.install(ctx, p); err != nil {
			log.Error().Err(err).Str("component", p.Component).Msg("plugin installation failed")
			failures = append(failures, fmt.Sprintf("%s: %v", p.Component, err))
			continue
		}
		progress("install", fmt.Sprintf("installed %s %s", p.Component, p.Version))
		installed++
	}
	return installed, failures
}

func (pi *pluginInstaller) install(ctx context.Context, p Plugin) error {
	downloadURL := p.DownloadURL
	if downloadURL == "" {
		resolved, err := pi.resolveDownloadURL(ctx, p)
		if err != nil {
			return err
		}
		downloadURL = resolved
	}

	dir, ok := InstallDir(p.Component)
	if !ok {
		return fmt.Errorf("unknown plugin type in component %q", p.Component)
	}

	archive := filepath.Join(os.TempDir(), "plugin-"+uuid.NewString()+".zip")
	defer os.Remove(archive)

	if err := pi.download(ctx, downloadURL, archive); err != nil {
		return err
	}
	if err := verifyPluginArchive(archive, p.SHA256); err != nil {
		return err
	}

	// the zip's top-level directory is the plugin name, so extraction
	// targets the type directory, not the component directory
	target := filepath.Join(pi.moodleDir, filepath.Dir(dir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return extractZip(archive, target)
}

// pluginfoResponse is the subset of the plugin directory's answer we need.
type pluginfoResponse struct {
	Pluginfo struct {
		Component string `json:"component"`
		Versions  []struct {
			Version     string `json:"version"`
			DownloadURL string `json:"downloadurl"`
		} `json:"versions"`
	} `json:"pluginfo"`
}

// resolveDownloadURL looks the component up in the public plugin
// directory, preferring the exact declared version and falling back to the
// newest published one.
func (pi *pluginInstaller) resolveDownloadURL(ctx context.Context, p Plugin) (string, error) {
	q := url.Values{}
	q.Set("plugin", p.Component+"@"+p.Version)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pi.directoryURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := pi.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("plugin directory lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("plugin directory lookup: status %d", resp.StatusCode)
	}

	var info pluginfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("plugin directory lookup: %w", err)
	}
	if len(info.Pluginfo.Versions) == 0 {
		return "", fmt.Errorf("plugin %s not found in directory", p.Component)
	}
	for _, v := range info.Pluginfo.Versions {
		if v.Version == p.Version {
			return v.DownloadURL, nil
		}
	}
	return info.Pluginfo.Versions[0].DownloadURL, nil
}

func (pi *pluginInstaller) download(ctx context.Context, downloadURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := pi.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading plugin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading plugin: status %d", resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// verifyPluginArchive checks the download is a well-formed zip and, when
// the manifest pinned a checksum, that it matches. Unpinned archives are
// accepted on well-formedness alone.
func verifyPluginArchive(path, wantSHA256 string) error {
	if wantSHA256 != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return err
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != wantSHA256 {
			return fmt.Errorf("checksum mismatch: got %s, manifest declares %s", got, wantSHA256)
		}
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("downloaded archive is not a valid zip: %w", err)
	}
	return r.Close()
}
