package ovf

import "fmt"

// FileMeta describes one file extracted from the appliance archive.
type FileMeta struct {
	Size int64
	MD5  string
}

// Image is one entry of the appliance image inventory.
type Image struct {
	Filename string `json:"filename"`
	Version  string `json:"version"`
	MD5Sum   string `json:"md5sum"`
	Filesize int64  `json:"filesize"`
}

// DiskRole binds an emulator disk slot (hda_disk_image, cdrom_image, ...) to
// a filename. Order matters: disks first in encounter order, cdrom last.
type DiskRole struct {
	Role     string
	Filename string
}

// Appliance holds everything the descriptor builder needs from an OVF
// envelope plus the per-file metadata gathered during extraction.
type Appliance struct {
	Name     string
	Adapters int
	RAM      int
	Arch     string
	Options  string // extra QEMU options, empty when none
	Disks    []DiskRole
	Images   []Image
}

// MalformedOVFError reports a required OVF path that is absent or unusable.
type MalformedOVFError struct {
	Path string
}

func (e *MalformedOVFError) Error() string {
	return fmt.Sprintf("malformed OVF descriptor: missing %s", e.Path)
}
