// Package gns3 assembles and writes GNS3 appliance descriptors.
package gns3

import (
	"encoding/json"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/netlab-tools/ova2gns3a/ovf"
)

// Ext is the appliance descriptor filename extension.
const Ext = ".gns3a"

// Fixed descriptor fields. An imported appliance has no registry pedigree,
// so vendor and maintainer stay placeholders until someone curates it.
const (
	category        = "guest"
	vendorName      = "unknown"
	vendorURL       = "http://www.example.com"
	registryVersion = 1
	status          = "experimental"
	maintainer      = "unknown"
	maintainerEmail = "unknown@unknown.com"
	adapterType     = "e1000"
	consoleType     = "telnet"
	kvm             = "allow"
	imageVersion    = "0.0"
)

// Build assembles the appliance document. Key order is part of the output
// contract, hence the ordered map rather than a plain struct or map.
func Build(app *ovf.Appliance, source string) *orderedmap.OrderedMap {
	doc := orderedmap.New()
	doc.Set("name", app.Name)
	doc.Set("category", category)
	doc.Set("description", "ova import of "+source)
	doc.Set("vendor_name", vendorName)
	doc.Set("vendor_url", vendorURL)
	doc.Set("product_name", app.Name)
	doc.Set("registry_version", registryVersion)
	doc.Set("status", status)
	doc.Set("maintainer", maintainer)
	doc.Set("maintainer_email", maintainerEmail)
	doc.Set("qemu", qemuSection(app))
	doc.Set("images", app.Images)
	doc.Set("versions", []*orderedmap.OrderedMap{versionEntry(app)})
	return doc
}

func qemuSection(app *ovf.Appliance) *orderedmap.OrderedMap {
	qemu := orderedmap.New()
	qemu.Set("adapter_type", adapterType)
	qemu.Set("adapters", app.Adapters)
	qemu.Set("ram", app.RAM)
	qemu.Set("arch", app.Arch)
	qemu.Set("console_type", consoleType)
	qemu.Set("kvm", kvm)
	if app.Options != "" {
		qemu.Set("options", app.Options)
	}
	return qemu
}

func versionEntry(app *ovf.Appliance) *orderedmap.OrderedMap {
	images := orderedmap.New()
	for _, disk := range app.Disks {
		images.Set(disk.Role, disk.Filename)
	}

	version := orderedmap.New()
	version.Set("name", imageVersion)
	version.Set("images", images)
	return version
}

// Writer serializes appliance documents to a filesystem.
type Writer struct {
	appFs afero.Fs
}

func NewWriter(appFs afero.Fs) Writer {
	return Writer{appFs: appFs}
}

// Write serializes the document with 4-space indentation and a trailing
// newline. The document is built in memory and written once.
func (w Writer) Write(filePath string, doc *orderedmap.OrderedMap) error {
	f, err := w.appFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to create descriptor file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return xerrors.Errorf("failed to marshal appliance descriptor: %w", err)
	}

	if _, err = f.Write(append(b, '\n')); err != nil {
		return xerrors.Errorf("failed to save appliance descriptor: %w", err)
	}
	return nil
}
