package ova_test

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlab-tools/ova2gns3a/ova"
)

const testOVF = `<?xml version="1.0"?>
<Envelope xmlns="http://schemas.dmtf.org/ovf/envelope/1" xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1">
  <References>
    <File ovf:href="disk1.vmdk" ovf:id="file1"/>
    <File ovf:href="cd.iso" ovf:id="file2"/>
  </References>
  <VirtualSystem ovf:id="vm-1234">
    <Name>TestVM</Name>
    <OperatingSystemSection ovf:id="94" ovf:osType="ubuntu64Guest">
      <Info>Guest OS</Info>
    </OperatingSystemSection>
    <VirtualHardwareSection>
      <Info>Virtual hardware</Info>
      <Item><ResourceType>4</ResourceType><VirtualQuantity>512</VirtualQuantity></Item>
      <Item><ResourceType>10</ResourceType></Item>
    </VirtualHardwareSection>
  </VirtualSystem>
</Envelope>`

type member struct {
	name    string
	content string
	modTime time.Time
}

func buildArchive(t *testing.T, members []member) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     m.name,
			Mode:     0644,
			Size:     int64(len(m.content)),
			ModTime:  m.modTime,
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(m.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func setup(t *testing.T, archive []byte) afero.Fs {
	t.Helper()

	memfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memfs, "test.ova", archive, 0644))
	require.NoError(t, memfs.MkdirAll("out", 0755))
	return memfs
}

func descriptor(t *testing.T, memfs afero.Fs, path string) map[string]interface{} {
	t.Helper()

	b, err := afero.ReadFile(memfs, path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

func TestConvert(t *testing.T) {
	modTime := time.Date(2020, 5, 17, 10, 30, 0, 0, time.UTC)
	archive := buildArchive(t, []member{
		{name: "vm/appliance.ovf", content: testOVF, modTime: modTime},
		{name: "vm/disk1.vmdk", content: "abc", modTime: modTime},
		{name: "vm/cd.iso", content: "media", modTime: modTime},
	})
	memfs := setup(t, archive)

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	require.NoError(t, c.Convert("test.ova"))

	// Members land under their base filename, content and mtime preserved.
	content, err := afero.ReadFile(memfs, "out/disk1.vmdk")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	info, err := memfs.Stat("out/disk1.vmdk")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime), "modification time is preserved, got %s", info.ModTime())

	// The descriptor is not re-extracted as a file.
	exists, err := afero.Exists(memfs, "out/appliance.ovf")
	require.NoError(t, err)
	assert.False(t, exists)

	doc := descriptor(t, memfs, "out/test.gns3a")
	assert.Equal(t, "TestVM", doc["name"])
	assert.Equal(t, "ova import of test.ova", doc["description"])

	images := doc["images"].([]interface{})
	require.Len(t, images, 2)
	first := images[0].(map[string]interface{})
	assert.Equal(t, "cd.iso", first["filename"])

	second := images[1].(map[string]interface{})
	assert.Equal(t, "disk1.vmdk", second["filename"])
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", second["md5sum"])
	assert.Equal(t, float64(3), second["filesize"])
}

func TestConvert_GzippedArchive(t *testing.T) {
	archive := buildArchive(t, []member{
		{name: "appliance.ovf", content: testOVF, modTime: time.Now()},
		{name: "disk1.vmdk", content: "abc", modTime: time.Now()},
		{name: "cd.iso", content: "media", modTime: time.Now()},
	})
	memfs := setup(t, gzipped(t, archive))

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	require.NoError(t, c.Convert("test.ova"))

	exists, err := afero.Exists(memfs, "out/test.gns3a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConvert_NameOverride(t *testing.T) {
	archive := buildArchive(t, []member{
		{name: "appliance.ovf", content: testOVF, modTime: time.Now()},
		{name: "disk1.vmdk", content: "abc", modTime: time.Now()},
		{name: "cd.iso", content: "media", modTime: time.Now()},
	})
	memfs := setup(t, archive)

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"), ova.WithName("better-name"))
	require.NoError(t, c.Convert("test.ova"))

	doc := descriptor(t, memfs, "out/test.gns3a")
	assert.Equal(t, "better-name", doc["name"])
}

func TestConvert_MissingDescriptor(t *testing.T) {
	archive := buildArchive(t, []member{
		{name: "disk1.vmdk", content: "abc", modTime: time.Now()},
	})
	memfs := setup(t, archive)

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	err := c.Convert("test.ova")
	require.ErrorIs(t, err, ova.ErrMissingDescriptor)

	// Full scan already happened, so the image is on disk, but no
	// descriptor file is written.
	exists, err := afero.Exists(memfs, "out/disk1.vmdk")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(memfs, "out/test.gns3a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConvert_MalformedDescriptorKeepsExtractedFiles(t *testing.T) {
	archive := buildArchive(t, []member{
		{name: "appliance.ovf", content: `<Envelope><References><File href="disk1.vmdk"/></References></Envelope>`, modTime: time.Now()},
		{name: "disk1.vmdk", content: "abc", modTime: time.Now()},
	})
	memfs := setup(t, archive)

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	err := c.Convert("test.ova")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed OVF")

	exists, err := afero.Exists(memfs, "out/disk1.vmdk")
	require.NoError(t, err)
	assert.True(t, exists, "extracted files are not cleaned up on a later failure")
}

func TestConvert_DestinationMissing(t *testing.T) {
	memfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memfs, "test.ova", []byte("irrelevant"), 0644))

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("nope"))
	err := c.Convert("test.ova")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination directory does not exist")
}

func TestConvert_ArchiveMissing(t *testing.T) {
	memfs := afero.NewMemMapFs()
	require.NoError(t, memfs.MkdirAll("out", 0755))

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	err := c.Convert("nothere.ova")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to open archive")
}

func TestConvert_CorruptArchive(t *testing.T) {
	memfs := setup(t, []byte("this is not a tar archive at all, not even close"))

	c := ova.NewConverter(ova.WithFs(memfs), ova.WithDestDir("out"))
	err := c.Convert("test.ova")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt archive")
}
