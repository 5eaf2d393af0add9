// Package ova converts an OVA appliance archive into a GNS3 appliance
// descriptor, extracting the bundled disk and media images along the way.
package ova

import (
	"archive/tar"
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/netlab-tools/ova2gns3a/gns3"
	"github.com/netlab-tools/ova2gns3a/ovf"
	"github.com/netlab-tools/ova2gns3a/utils"
	"github.com/netlab-tools/ova2gns3a/xmltree"
)

const descriptorSuffix = ".ovf"

// ErrMissingDescriptor is reported after a full archive scan that found no
// OVF descriptor member.
var ErrMissingDescriptor = xerrors.New("no OVF descriptor found in archive")

var gzipMagic = []byte{0x1f, 0x8b}

// Converter extracts an OVA archive and writes the appliance descriptor.
type Converter struct {
	appFs   afero.Fs
	destDir string
	name    string
}

type option func(*Converter)

func WithFs(appFs afero.Fs) option {
	return func(c *Converter) {
		c.appFs = appFs
	}
}

func WithDestDir(dir string) option {
	return func(c *Converter) {
		c.destDir = dir
	}
}

// WithName overrides the appliance name from the OVF descriptor, which is
// often an export UUID rather than anything human-readable.
func WithName(name string) option {
	return func(c *Converter) {
		c.name = name
	}
}

func NewConverter(opts ...option) *Converter {
	c := &Converter{
		appFs:   afero.NewOsFs(),
		destDir: ".",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert runs the whole conversion: one sequential scan of the archive,
// extracting every image member and remembering the descriptor, then the
// flatten/extract/build pipeline. The run either completes or aborts;
// files already extracted are not cleaned up on a later failure.
func (c *Converter) Convert(archivePath string) error {
	ok, err := utils.IsDir(c.appFs, c.destDir)
	if err != nil {
		return xerrors.Errorf("unable to check destination directory: %w", err)
	}
	if !ok {
		return xerrors.Errorf("destination directory does not exist: %s", c.destDir)
	}

	f, err := c.appFs.Open(archivePath)
	if err != nil {
		return xerrors.Errorf("unable to open archive: %w", err)
	}
	defer f.Close()

	descriptor, files, err := c.scan(f)
	if err != nil {
		return err
	}
	if descriptor == nil {
		return ErrMissingDescriptor
	}

	envelope, err := xmltree.Parse(descriptor)
	if err != nil {
		return xerrors.Errorf("unable to parse OVF descriptor: %w", err)
	}

	app, err := ovf.Extract(envelope, files)
	if err != nil {
		return err
	}
	if c.name != "" {
		app.Name = c.name
	}

	source := filepath.Base(archivePath)
	doc := gns3.Build(app, source)

	destPath := filepath.Join(c.destDir, baseName(source)+gns3.Ext)
	log.Printf("Writing appliance descriptor %s", destPath)
	return gns3.NewWriter(c.appFs).Write(destPath, doc)
}

// scan walks the archive once, extracting every regular non-descriptor
// member under its base filename and accumulating the per-file metadata
// table. The first descriptor member's bytes are kept in memory.
func (c *Converter) scan(archive io.Reader) ([]byte, map[string]ovf.FileMeta, error) {
	stream, err := uncompressed(archive)
	if err != nil {
		return nil, nil, xerrors.Errorf("unable to read archive: %w", err)
	}

	tr := tar.NewReader(stream)
	files := map[string]ovf.FileMeta{}
	var descriptor []byte
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, xerrors.Errorf("corrupt archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(header.Name)
		if strings.HasSuffix(name, descriptorSuffix) {
			if descriptor == nil {
				if descriptor, err = io.ReadAll(tr); err != nil {
					return nil, nil, xerrors.Errorf("unable to read descriptor %s: %w", name, err)
				}
			}
			continue
		}

		meta, err := c.extract(name, tr, header.ModTime)
		if err != nil {
			return nil, nil, err
		}
		files[name] = meta
	}
	return descriptor, files, nil
}

// extract streams one member to the destination, accumulating its MD5 digest
// and size in the same pass. The output handle is closed and the member's
// modification time restored before the next member is read.
func (c *Converter) extract(name string, r io.Reader, modTime time.Time) (ovf.FileMeta, error) {
	log.Printf("Extracting %s", name)

	destPath := filepath.Join(c.destDir, name)
	f, err := c.appFs.Create(destPath)
	if err != nil {
		return ovf.FileMeta{}, xerrors.Errorf("unable to create %s: %w", destPath, err)
	}

	digest := md5.New()
	size, err := io.Copy(io.MultiWriter(f, digest), r)
	closeErr := f.Close()
	if err != nil {
		return ovf.FileMeta{}, xerrors.Errorf("unable to extract %s: %w", name, err)
	}
	if closeErr != nil {
		return ovf.FileMeta{}, xerrors.Errorf("unable to close %s: %w", destPath, closeErr)
	}

	if err := c.appFs.Chtimes(destPath, modTime, modTime); err != nil {
		return ovf.FileMeta{}, xerrors.Errorf("unable to restore modification time of %s: %w", destPath, err)
	}

	return ovf.FileMeta{
		Size: size,
		MD5:  hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

// uncompressed sniffs the gzip magic so archives produced with tar czf work
// the same as plain tar output.
func uncompressed(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == len(gzipMagic) && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		return gzip.NewReader(br)
	}
	return br, nil
}

// baseName strips the archive extension (and a .gz layer if present) to name
// the generated descriptor after the archive.
func baseName(archive string) string {
	name := strings.TrimSuffix(archive, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}
