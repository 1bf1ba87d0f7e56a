package archive

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

const ContentType = "application/zip"

// Site is the input of Package.
type Site struct {
	ID          int64
	Prompt      string
	Code        string
	GeneratedAt time.Time
}

// Package builds a zip holding index.html and a README describing the site.
func Package(site Site) ([]byte, error) {
	if strings.TrimSpace(site.Code) == "" {
		return nil, fmt.Errorf("no code to package")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name string
		body string
	}{
		{"index.html", site.Code},
		{"README.md", readme(site)},
	}
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: site.GeneratedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func readme(site Site) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated website #%d\n\n", site.ID)
	fmt.Fprintf(&b, "Generated at %s.\n\n", site.GeneratedAt.UTC().Format(time.RFC1123))
	b.WriteString("## Prompt\n\n")
	b.WriteString(strings.TrimSpace(site.Prompt))
	b.WriteString("\n\n## Usage\n\nOpen `index.html` in a browser or upload the folder to any static host.\n")
	return b.String()
}
