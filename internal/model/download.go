package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"inkwell/internal/logging"
)

// Progress reports bytes received during a download. Total is -1 when the
// server does not send a Content-Length.
type Progress struct {
	ModelID  string
	Received int64
	Total    int64
}

// ProgressFunc receives download progress callbacks. Called from the
// download goroutine; keep it cheap.
type ProgressFunc func(Progress)

// Downloader fetches model artifacts. Downloads stream into a .partial file
// and are renamed into place only after the checksum matches, so a ready
// artifact on disk is always complete and verified.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a downloader. Model artifacts are large, so there is
// no overall timeout; cancellation comes from the context.
func NewDownloader() *Downloader {
	return &Downloader{client: &http.Client{}}
}

// ArtifactPath returns where a model's artifact lives under destDir.
func ArtifactPath(destDir, id string) string {
	return filepath.Join(destDir, id+".gguf")
}

// Fetch downloads the entry's artifact into destDir, verifying its sha256
// against the entry's pin or, when unpinned, the digest the hosting repo
// publishes for the file. Returns the final artifact path and the verified
// digest. On any failure the .partial file is removed and the destination is
// left untouched.
func (d *Downloader) Fetch(ctx context.Context, entry CatalogEntry, destDir string, onProgress ProgressFunc) (string, string, error) {
	want := entry.SHA256
	if want == "" {
		resolved, err := d.resolveDigest(ctx, entry.URL)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve digest for %s: %w", entry.ID, err)
		}
		want = resolved
		logging.Model("resolved digest for %s: %s", entry.ID, want)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create models directory: %w", err)
	}

	dest := ArtifactPath(destDir, entry.ID)
	partial := dest + ".partial"

	logging.Model("downloading %s from %s", entry.ID, entry.URL)

	req, err := http.NewRequestWithContext(ctx, "GET", entry.URL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	f, err := os.Create(partial)
	if err != nil {
		return "", "", fmt.Errorf("failed to create partial file: %w", err)
	}

	hasher := sha256.New()
	received, copyErr := copyWithProgress(ctx, io.MultiWriter(f, hasher), resp.Body, Progress{
		ModelID: entry.ID,
		Total:   resp.ContentLength,
	}, onProgress)

	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partial)
		return "", "", fmt.Errorf("download of %s failed after %d bytes: %w", entry.ID, received, copyErr)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(sum, want) {
		os.Remove(partial)
		return "", "", fmt.Errorf("checksum mismatch for %s: got %s want %s", entry.ID, sum, want)
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return "", "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	logging.Model("downloaded %s (%d bytes, verified)", entry.ID, received)
	return dest, sum, nil
}

// resolveDigest asks the artifact's server for the file's sha256 without
// downloading it. Hugging Face resolve endpoints expose the LFS object id
// (the sha256 of the content) as X-Linked-Etag, falling back to ETag for
// servers that put the content hash there directly.
func (d *Downloader) resolveDigest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	for _, header := range []string{"X-Linked-Etag", "Etag"} {
		v := strings.TrimPrefix(resp.Header.Get(header), "W/")
		v = strings.Trim(v, `"`)
		if isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}
	return "", fmt.Errorf("server published no sha256 digest")
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// copyWithProgress copies src to dst in chunks, invoking onProgress as bytes
// arrive and honoring context cancellation between chunks.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, p Progress, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return p.Received, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return p.Received, err
			}
			p.Received += int64(n)
			if onProgress != nil {
				onProgress(p)
			}
		}
		if readErr == io.EOF {
			return p.Received, nil
		}
		if readErr != nil {
			return p.Received, readErr
		}
	}
}

// Verify re-hashes an artifact on disk against the expected checksum.
func Verify(path, wantSHA256 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(sum, wantSHA256) {
		return fmt.Errorf("checksum mismatch: got %s want %s", sum, wantSHA256)
	}
	return nil
}
