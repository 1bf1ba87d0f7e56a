package archive

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackage(t *testing.T) {
	site := Site{
		ID:          42,
		Prompt:      "a landing page for a coffee shop",
		Code:        "<!DOCTYPE html><html><body>Coffee</body></html>",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Package(site)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(body)
	}
	assert.Equal(t, site.Code, contents["index.html"])
	assert.Contains(t, contents["README.md"], "coffee shop")
	assert.Contains(t, contents["README.md"], "#42")
}

func TestPackage_EmptyCode(t *testing.T) {
	_, err := Package(Site{ID: 1, Code: "  "})
	assert.Error(t, err)
}
