package asr

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archiver/v3"

	"github.com/duasub/duasub/internal/engineerr"
	"github.com/duasub/duasub/internal/events"
)

// modelSource describes where to download a model archive from and the
// minimum plausible size for it, used as a cheap corruption check (spec
// §4.4: "a downloaded archive of implausible size is treated as corrupted").
type modelSource struct {
	URL      string
	MinBytes int64
}

// modelSources is intentionally a var, not a const map, so an alternate
// model build can register a different source before the first Gateway
// call that needs a download.
var modelSources = map[string]modelSource{}

// RegisterModelSource makes modelName downloadable from url, with minBytes
// used as the corruption floor on the downloaded archive.
func RegisterModelSource(modelName, url string, minBytes int64) {
	modelSources[modelName] = modelSource{URL: url, MinBytes: minBytes}
}

// downloadModel fetches and extracts modelName's archive into cacheDir,
// publishing DownloadStarted/DownloadProgress/DownloadCompleted/DownloadError
// events at roughly 1Hz. A corrupted download (undersized, or failing to
// extract) is retried exactly once before giving up (spec §4.4 step 4).
func downloadModel(ctx context.Context, cacheDir, modelName string, bus *events.Bus) error {
	src, ok := modelSources[modelName]
	if !ok {
		return engineerr.New(engineerr.ModelUnavailable, "no download source registered for model %q", modelName)
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return engineerr.New(engineerr.ModelUnavailable, "cannot create model cache dir: %v", err)
	}

	publish(bus, events.DownloadStarted(modelName))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		archivePath, err := fetchArchive(ctx, src, modelName, cacheDir, bus)
		if err != nil {
			lastErr = err
			continue
		}

		if info, statErr := os.Stat(archivePath); statErr != nil || info.Size() < src.MinBytes {
			os.Remove(archivePath)
			lastErr = engineerr.New(engineerr.ModelUnavailable, "downloaded archive for %q looks corrupted (undersized)", modelName)
			continue
		}

		if ok, err := hasValidMagicHeader(archivePath); err != nil || !ok {
			os.Remove(archivePath)
			lastErr = engineerr.New(engineerr.ModelUnavailable, "downloaded archive for %q looks corrupted (wrong magic header)", modelName)
			continue
		}

		if err := extractArchive(archivePath, cacheDir); err != nil {
			os.Remove(archivePath)
			lastErr = engineerr.New(engineerr.ModelUnavailable, "extracting model archive: %v", err)
			continue
		}

		os.Remove(archivePath)
		publish(bus, events.DownloadCompleted())
		return nil
	}

	msg := "download failed after retry"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	publish(bus, events.DownloadError(msg))
	return engineerr.New(engineerr.ModelUnavailable, "%s", msg)
}

// fetchArchive streams src.URL into a temp file under cacheDir, publishing
// DownloadProgress at roughly 1Hz while copying.
func fetchArchive(ctx context.Context, src modelSource, modelName, cacheDir string, bus *events.Bus) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", engineerr.New(engineerr.ModelUnavailable, "unexpected status downloading %s: %s", modelName, resp.Status)
	}

	archivePath := filepath.Join(cacheDir, modelName+archiveExt(src.URL)+".part")
	out, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	pr := &progressCopier{
		dst:       out,
		totalSize: resp.ContentLength,
		bus:       bus,
		last:      time.Now(),
	}
	if _, err := io.Copy(pr, resp.Body); err != nil {
		return "", err
	}

	finalPath := strings.TrimSuffix(archivePath, ".part")
	if err := os.Rename(archivePath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// archiveMagic maps a file extension to its expected leading bytes. Only
// formats archiveExt recognizes by suffix are checked; anything else is
// treated as unrecognized and accepted (no magic check to apply).
var archiveMagic = map[string][]byte{
	".zip":    {'P', 'K', 0x03, 0x04},
	".tar.gz": {0x1f, 0x8b},
	".tar.xz": {0xfd, '7', 'z', 'X', 'Z', 0x00},
}

// hasValidMagicHeader reports whether path's leading bytes match the format
// implied by its extension, a cheap corruption check beyond size alone
// (spec §4.4: a downloaded archive with the "wrong magic header" is treated
// as corrupted).
func hasValidMagicHeader(path string) (bool, error) {
	ext := archiveExt(path)
	want, ok := archiveMagic[ext]
	if !ok {
		return true, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	got := make([]byte, len(want))
	if _, err := io.ReadFull(f, got); err != nil {
		return false, nil
	}
	for i, b := range want {
		if got[i] != b {
			return false, nil
		}
	}
	return true, nil
}

func archiveExt(url string) string {
	switch {
	case strings.HasSuffix(url, ".tar.xz"):
		return ".tar.xz"
	case strings.HasSuffix(url, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(url, ".zip"):
		return ".zip"
	default:
		return filepath.Ext(url)
	}
}

// progressCopier wraps an io.Writer, publishing a DownloadProgress event at
// most once per second while bytes are copied through it. Speed is computed
// from the delta against the previous tick, not a cumulative average, so a
// stalled-then-resumed download reports its current rate (spec §4.4:
// "speed computed from running deltas").
type progressCopier struct {
	dst       io.Writer
	totalSize int64
	written   int64
	bus       *events.Bus
	last      time.Time
	lastBytes int64
}

func (p *progressCopier) Write(b []byte) (int, error) {
	n, err := p.dst.Write(b)
	p.written += int64(n)

	if elapsed := time.Since(p.last); elapsed >= time.Second {
		deltaBytes := p.written - p.lastBytes
		speedMBps := float64(deltaBytes) / (1024 * 1024) / elapsed.Seconds()
		p.last = time.Now()
		p.lastBytes = p.written

		mb := float64(p.written) / (1024 * 1024)
		totalMB := float64(p.totalSize) / (1024 * 1024)
		pct := 0
		if p.totalSize > 0 {
			pct = int(float64(p.written) / float64(p.totalSize) * 100)
		}
		publish(p.bus, events.DownloadProgress(pct, mb, totalMB, speedMBps))
	}
	return n, err
}

// extractArchive unpacks archivePath into destDir, stripping the top-level
// directory archiver.Unarchive typically produces so the model's essential
// files land directly under destDir.
func extractArchive(archivePath, destDir string) error {
	tmp, err := os.MkdirTemp(filepath.Dir(destDir), "duasub-model-extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := archiver.Unarchive(archivePath, tmp); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return err
	}

	src := tmp
	if len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(tmp, entries[0].Name())
	}

	return moveTree(src, destDir)
}

func moveTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return nil
}

func publish(bus *events.Bus, e events.Event) {
	if bus != nil {
		bus.Publish(e)
	}
}
