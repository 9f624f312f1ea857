package optimize

import (
	"github.com/disintegration/imaging"
)

// Preset names the target geometry and encoding for one derived image.
// The table is configuration: adding a preset requires no change to the
// optimizer itself. The preset name doubles as the cache kind.
type Preset struct {
	Name     string
	MaxWidth int
	// MaxHeight bounds the second dimension; zero means width-only.
	MaxHeight int
	Quality   int
	Format    imaging.Format
	MimeType  string
}

// Standard presets enqueued by the ingestion dispatcher for every
// image upload.
const (
	PresetAIChat    = "ai-chat"
	PresetThumbnail = "thumbnail"
)

var presets = map[string]Preset{
	PresetAIChat: {
		Name:     PresetAIChat,
		MaxWidth: 1920,
		Quality:  85,
		Format:   imaging.JPEG,
		MimeType: "image/jpeg",
	},
	PresetThumbnail: {
		Name:      PresetThumbnail,
		MaxWidth:  200,
		MaxHeight: 200,
		Quality:   80,
		Format:    imaging.PNG,
		MimeType:  "image/png",
	},
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// StandardPresets lists the presets generated on ingestion.
func StandardPresets() []string {
	return []string{PresetAIChat, PresetThumbnail}
}
