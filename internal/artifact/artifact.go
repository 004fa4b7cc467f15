// Package artifact packages finished jobs into downloadable files.
package artifact

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	digest "github.com/JakeFAU/site-cloner/internal/hash/sha256"
	"github.com/JakeFAU/site-cloner/internal/rewrite"
)

// Content types of the produced artifacts.
const (
	ContentTypeZip  = "application/zip"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// SitemapName is the archive entry listing the discovered URLs.
const SitemapName = "sitemap.txt"

// ErrNotReady is returned for jobs without a completed result.
var ErrNotReady = errors.New("job has no completed result")

var hasher = digest.New()

// Artifact is a named file ready to serve or export. SHA256 is the hex digest of Data.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	SHA256      string
}

// ForJob builds the artifact matching the job's result kind and records its digest.
func ForJob(job cloner.Job) (Artifact, error) {
	a, err := build(job)
	if err != nil {
		return Artifact{}, err
	}
	if a.SHA256, err = hasher.Hash(a.Data); err != nil {
		return Artifact{}, fmt.Errorf("hash artifact %s: %w", job.ID, err)
	}
	return a, nil
}

func build(job cloner.Job) (Artifact, error) {
	if job.Status != cloner.JobStatusCompleted {
		return Artifact{}, fmt.Errorf("build artifact %s: %w", job.ID, ErrNotReady)
	}
	modified := job.UpdatedAt
	if job.FinishedAt != nil {
		modified = *job.FinishedAt
	}
	switch {
	case job.FullSiteResult != nil:
		return FullSite(job.ID, *job.FullSiteResult, modified)
	case job.Result != nil:
		return SinglePage(job.ID, *job.Result), nil
	default:
		return Artifact{}, fmt.Errorf("build artifact %s: %w", job.ID, ErrNotReady)
	}
}

// FullSite zips one file per output path plus sitemap.txt. When two pages
// map to the same path the first one is kept.
func FullSite(jobID string, res cloner.FullSiteResult, modified time.Time) (Artifact, error) {
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	written := make(map[string]bool, len(res.Pages))
	for _, page := range res.Pages {
		name := entryName(page)
		if written[name] {
			continue
		}
		written[name] = true
		if err := writeEntry(zw, name, modified, []byte(page.HTML)); err != nil {
			return Artifact{}, err
		}
	}
	if len(res.Sitemap) > 0 {
		sitemap := strings.Join(res.Sitemap, "\n")
		if err := writeEntry(zw, SitemapName, modified, []byte(sitemap)); err != nil {
			return Artifact{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close archive: %w", err)
	}
	return Artifact{
		Name:        fmt.Sprintf("cloned_site_%s.zip", jobID),
		ContentType: ContentTypeZip,
		Data:        buf.Bytes(),
	}, nil
}

// SinglePage returns the transformed document as an HTML file.
func SinglePage(jobID string, res cloner.SinglePageResult) Artifact {
	return Artifact{
		Name:        fmt.Sprintf("clone_%s.html", jobID),
		ContentType: ContentTypeHTML,
		Data:        []byte(res.HTML),
	}
}

// ObjectPath is the blob path an artifact is exported to.
func ObjectPath(prefix, jobID string, a Artifact) string {
	return path.Join(strings.Trim(prefix, "/"), jobID, a.Name)
}

func entryName(page cloner.SitePage) string {
	name := page.Path
	if name == "" {
		name = rewrite.OutputPath(page.URL)
	}
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
