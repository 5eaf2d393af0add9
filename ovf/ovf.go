// Package ovf maps a flattened OVF envelope onto the fields a GNS3 appliance
// descriptor needs.
package ovf

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/netlab-tools/ova2gns3a/xmltree"
)

// OVF hardware item resource types.
const (
	resourceCPU      = "3"
	resourceMemory   = "4"
	resourceEthernet = "10"
)

const (
	defaultRAM      = 256 // MB
	defaultAdapters = 1
)

// Extract applies the OVF vocabulary rules to a flattened envelope and the
// per-file metadata table gathered while the archive was scanned. Any
// required path that has neither its primary location nor its fallback
// results in a *MalformedOVFError and no partial output.
func Extract(envelope *xmltree.Node, files map[string]FileMeta) (*Appliance, error) {
	system, ok := envelope.Child("VirtualSystem")
	if !ok {
		return nil, &MalformedOVFError{Path: "VirtualSystem"}
	}

	name, err := systemName(system)
	if err != nil {
		return nil, err
	}

	hardware, ok := system.Child("VirtualHardwareSection")
	if !ok {
		return nil, &MalformedOVFError{Path: "VirtualSystem.VirtualHardwareSection"}
	}
	items := hardware.List("Item")

	ram, err := memorySize(items)
	if err != nil {
		return nil, err
	}
	options, err := cpuOptions(items)
	if err != nil {
		return nil, err
	}

	arch, err := architecture(system)
	if err != nil {
		return nil, err
	}

	disks, err := classifyFiles(envelope)
	if err != nil {
		return nil, err
	}

	return &Appliance{
		Name:     name,
		Adapters: adapterCount(items),
		RAM:      ram,
		Arch:     arch,
		Options:  options,
		Disks:    disks,
		Images:   imageInventory(files),
	}, nil
}

// systemName prefers the VirtualSystem's Name element and falls back to its
// id attribute, which is what most VirtualBox exports carry.
func systemName(system *xmltree.Node) (string, error) {
	if name, ok := textOf(system.Child("Name")); ok {
		return name, nil
	}
	if id, ok := textOf(system.Child("id")); ok {
		return id, nil
	}
	return "", &MalformedOVFError{Path: "VirtualSystem.Name"}
}

// adapterCount never reports zero: every appliance gets at least one slot.
func adapterCount(items []*xmltree.Node) int {
	count := lo.CountBy(items, func(item *xmltree.Node) bool {
		rt, _ := textOf(item.Child("ResourceType"))
		return rt == resourceEthernet
	})
	if count == 0 {
		return defaultAdapters
	}
	return count
}

func memorySize(items []*xmltree.Node) (int, error) {
	qty, ok, err := firstQuantity(items, resourceMemory)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultRAM, nil
	}
	return qty, nil
}

// cpuOptions synthesizes the -smp option when the appliance declares more
// than one CPU core, and nothing otherwise.
func cpuOptions(items []*xmltree.Node) (string, error) {
	cores, ok, err := firstQuantity(items, resourceCPU)
	if err != nil {
		return "", err
	}
	if !ok || cores <= 1 {
		return "", nil
	}
	return fmt.Sprintf("-smp %d", cores), nil
}

// firstQuantity returns the VirtualQuantity of the first hardware item with
// the given resource type.
func firstQuantity(items []*xmltree.Node, resourceType string) (int, bool, error) {
	for _, item := range items {
		rt, _ := textOf(item.Child("ResourceType"))
		if rt != resourceType {
			continue
		}
		raw, ok := textOf(item.Child("VirtualQuantity"))
		if !ok {
			return 0, false, &MalformedOVFError{Path: "Item.VirtualQuantity"}
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false, &MalformedOVFError{Path: "Item.VirtualQuantity"}
		}
		return qty, true, nil
	}
	return 0, false, nil
}

// architecture guesses the CPU architecture from the OS type hint. The "64"
// substring check is a heuristic kept as-is for compatibility.
func architecture(system *xmltree.Node) (string, error) {
	section, ok := system.Child("OperatingSystemSection")
	if !ok {
		return "", &MalformedOVFError{Path: "VirtualSystem.OperatingSystemSection"}
	}
	osType, ok := textOf(section.Child("osType"))
	if !ok {
		osType, ok = textOf(section.Child("OSType"))
	}
	if !ok {
		return "", &MalformedOVFError{Path: "OperatingSystemSection.osType"}
	}
	return lo.Ternary(strings.Contains(osType, "64"), "x86_64", "i386"), nil
}

// classifyFiles walks the envelope's file references in document order. The
// first ".iso" reference becomes the cdrom and later ISOs are dropped; every
// other reference gets the next hdX slot.
func classifyFiles(envelope *xmltree.Node) ([]DiskRole, error) {
	refs, ok := envelope.Child("References")
	if !ok {
		return nil, &MalformedOVFError{Path: "References"}
	}
	if _, ok := refs.Child("File"); !ok {
		return nil, &MalformedOVFError{Path: "References.File"}
	}

	var disks []DiskRole
	var cdrom string
	ordinal := 0
	for _, ref := range refs.List("File") {
		href, ok := textOf(ref.Child("href"))
		if !ok {
			return nil, &MalformedOVFError{Path: "References.File.href"}
		}
		filename := path.Base(href)
		if strings.HasSuffix(filename, ".iso") {
			if cdrom == "" {
				cdrom = filename
			}
			continue
		}
		disks = append(disks, DiskRole{
			Role:     fmt.Sprintf("hd%c_disk_image", 'a'+ordinal),
			Filename: filename,
		})
		ordinal++
	}
	if cdrom != "" {
		disks = append(disks, DiskRole{Role: "cdrom_image", Filename: cdrom})
	}
	return disks, nil
}

// imageInventory lists every extracted file with its digest and size, sorted
// by filename so the descriptor is reproducible.
func imageInventory(files map[string]FileMeta) []Image {
	filenames := lo.Keys(files)
	sort.Strings(filenames)

	images := make([]Image, 0, len(filenames))
	for _, filename := range filenames {
		meta := files[filename]
		images = append(images, Image{
			Filename: filename,
			Version:  "0.0",
			MD5Sum:   meta.MD5,
			Filesize: meta.Size,
		})
	}
	return images
}

// textOf reads the text of a node that is either plain text or an element
// that also carried attributes, in which case the text sits under #text.
func textOf(n *xmltree.Node, ok bool) (string, bool) {
	if !ok || n == nil {
		return "", false
	}
	if text, isText := n.Text(); isText {
		return text, true
	}
	if inner, present := n.Child("#text"); present {
		return inner.Text()
	}
	return "", false
}
