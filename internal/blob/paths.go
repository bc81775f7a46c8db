package blob

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// Intermediate kinds written by the transformation stages.
const (
	KindBackgroundRemoved = "bg"
	KindScene             = "scene"
	KindUpscaled          = "upscale"
)

func itemPrefix(tenantID, jobID, itemID string) string {
	return tenantID + "/jobs/" + jobID + "/items/" + itemID
}

// SafeFilename strips any directory components from a client-supplied name.
func SafeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload.bin"
	}
	return name
}

// RawPath is where a tenant's original upload lives in the raw container.
func RawPath(tenantID, jobID, itemID, filename string) string {
	return itemPrefix(tenantID, jobID, itemID) + "/raw/" + SafeFilename(filename)
}

// IntermediatePath returns a fresh path for a stage result in the outputs
// container, e.g. ".../bg/bg_<hex>.png".
func IntermediatePath(tenantID, jobID, itemID, kind string) string {
	return itemPrefix(tenantID, jobID, itemID) + "/" + kind + "/" + kind + "_" + shortHex() + ".png"
}

// OutputPath returns a fresh final-output path in the outputs container.
// Every call yields a new name; blobs from abandoned attempts stay behind.
func OutputPath(tenantID, jobID, itemID, filename string) string {
	name := SafeFilename(filename)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".png"
	}
	return itemPrefix(tenantID, jobID, itemID) + "/outputs/" + stem + "_" + shortHex() + ext
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
