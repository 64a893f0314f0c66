// Package archive packs a tenant file tree into a gzip-compressed tar
// bundle and validates bundles before they are imported.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"botvault/internal/errors"
	"botvault/internal/validation"
	"botvault/shared/utils"

	"github.com/klauspost/compress/gzip"
)

const (
	// ContentType is the MIME type of an exported bundle.
	ContentType = "application/tar+gzip"

	// FormatVersion is written to every manifest; Unpack rejects others.
	FormatVersion = 1

	manifestName    = "manifest.json"
	filesDir        = "files/"
	maxManifestSize = 16 << 20
)

// Manifest is the first entry of every bundle.
type Manifest struct {
	Format     int       `json:"format"`
	Tenant     string    `json:"tenant"`
	ExportID   string    `json:"export_id"`
	ExportedAt time.Time `json:"exported_at"`
	Entries    []Entry   `json:"entries"`
}

// Entry describes one file of the bundle.
type Entry struct {
	Path     string `json:"path"`
	Revision string `json:"revision,omitempty"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// Archive is one exported bundle, ready to be served as an attachment.
type Archive struct {
	Name        string
	ContentType string
	Data        []byte
	Manifest    Manifest
}

// Bundle is a fully validated, unpacked archive.
type Bundle struct {
	Manifest Manifest
	Files    map[string][]byte
}

var nonWord = regexp.MustCompile(`\W`)

// FileName returns the attachment name of an export taken at t.
func FileName(tenant string, t time.Time) string {
	return "archive_" + nonWord.ReplaceAllString(tenant, "") + "_" + strconv.FormatInt(t.UnixMilli(), 10) + ".tgz"
}

// Pack writes m and the content of each of its entries to w. open is
// called once per entry in manifest order. Nothing written to w is usable
// unless Pack returns nil.
func Pack(ctx context.Context, w io.Writer, m Manifest, open func(Entry) ([]byte, error)) error {
	m.Format = FormatVersion
	if m.Entries == nil {
		m.Entries = []Entry{}
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeEntry(tw, manifestName, manifest, m.ExportedAt); err != nil {
		return err
	}

	for _, e := range m.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := open(e)
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Path, err)
		}
		if int64(len(data)) != e.Size {
			return fmt.Errorf("size of %s changed while packing", e.Path)
		}
		if err := writeEntry(tw, filesDir+e.Path, data, m.ExportedAt); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Unpack reads and validates a whole bundle. limit bounds the total
// uncompressed size. Every failure is a validation error: nothing is
// returned for a bundle that is not entirely consistent.
func Unpack(ctx context.Context, r io.Reader, limit int64) (*Bundle, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, invalid("not a gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	hdr, err := tr.Next()
	if err != nil {
		return nil, invalid("reading first entry", err)
	}
	if hdr.Name != manifestName {
		return nil, invalid("bundle does not start with a manifest", nil)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(tr, maxManifestSize)).Decode(&m); err != nil {
		return nil, invalid("decoding manifest", err)
	}
	if m.Format != FormatVersion {
		return nil, invalid(fmt.Sprintf("unsupported bundle format %d", m.Format), nil)
	}

	expected := make(map[string]Entry, len(m.Entries))
	for _, e := range m.Entries {
		cleaned, err := validation.CleanPath(e.Path)
		if err != nil {
			return nil, err
		}
		if cleaned != e.Path {
			return nil, invalid("manifest path is not normalized: "+e.Path, nil)
		}
		if _, dup := expected[e.Path]; dup {
			return nil, invalid("duplicate manifest entry: "+e.Path, nil)
		}
		expected[e.Path] = e
	}

	files := make(map[string][]byte, len(expected))
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalid("reading entry", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, invalid("unsupported entry type in "+hdr.Name, nil)
		}

		name, ok := cutFilesDir(hdr.Name)
		if !ok {
			return nil, invalid("unexpected entry "+hdr.Name, nil)
		}
		e, ok := expected[name]
		if !ok {
			return nil, invalid("entry not in manifest: "+name, nil)
		}
		if _, seen := files[name]; seen {
			return nil, invalid("duplicate entry: "+name, nil)
		}
		if hdr.Size != e.Size {
			return nil, invalid("size mismatch for "+name, nil)
		}

		total += hdr.Size
		if total > limit {
			return nil, invalid("bundle exceeds the size limit", nil)
		}

		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, tr, hdr.Size); err != nil {
			return nil, invalid("reading "+name, err)
		}
		if utils.HashContent(buf.Bytes()) != e.SHA256 {
			return nil, invalid("checksum mismatch for "+name, nil)
		}
		files[name] = buf.Bytes()
	}

	if len(files) != len(expected) {
		for _, e := range m.Entries {
			if _, ok := files[e.Path]; !ok {
				return nil, invalid("missing entry: "+e.Path, nil)
			}
		}
	}

	return &Bundle{Manifest: m, Files: files}, nil
}

func cutFilesDir(name string) (string, bool) {
	if len(name) <= len(filesDir) || name[:len(filesDir)] != filesDir {
		return "", false
	}
	return name[len(filesDir):], true
}

func invalid(message string, cause error) error {
	e := errors.ValidationError("invalid archive: "+message, nil)
	e.Err = cause
	return e
}
