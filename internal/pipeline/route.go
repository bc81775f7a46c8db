package pipeline

import (
	"opal/internal/blob"
	"opal/internal/jobs"
	"opal/internal/queue"
)

// Stage names a step of an item's journey.
type Stage string

const (
	StageCoordinator Stage = "coordinator"
	StageBackground  Stage = "bg-removal"
	StageScene       Stage = "scene-gen"
	StageUpscale     Stage = "upscale"
	StageExport      Stage = "export"
)

// order is the fixed transformation sequence.
var order = []Stage{StageBackground, StageScene, StageUpscale}

// Transforms lists the transformation stages in routing order.
func Transforms() []Stage {
	return append([]Stage(nil), order...)
}

// Queue returns the queue stage s consumes.
func (s Stage) Queue() string {
	switch s {
	case StageCoordinator:
		return queue.Jobs
	case StageBackground:
		return queue.BackgroundRemoval
	case StageScene:
		return queue.SceneGeneration
	case StageUpscale:
		return queue.Upscale
	case StageExport:
		return queue.Exports
	default:
		return ""
	}
}

// Enabled reports whether opts turns stage s on.
func (s Stage) Enabled(opts jobs.Options) bool {
	switch s {
	case StageBackground:
		return opts.RemoveBackground
	case StageScene:
		return opts.GenerateScene
	case StageUpscale:
		return opts.Upscale
	default:
		return false
	}
}

// blobKind is the intermediate path segment for stage s.
func (s Stage) blobKind() string {
	switch s {
	case StageBackground:
		return blob.KindBackgroundRemoved
	case StageScene:
		return blob.KindScene
	default:
		return blob.KindUpscaled
	}
}

// Next returns the first enabled transformation after from. ok is false
// when nothing remains and the item must be finalized. The coordinator and
// any unknown stage scan from the start.
func Next(from Stage, opts jobs.Options) (next Stage, ok bool) {
	start := 0
	for i, s := range order {
		if s == from {
			start = i + 1
			break
		}
	}
	for _, s := range order[start:] {
		if s.Enabled(opts) {
			return s, true
		}
	}
	return "", false
}
