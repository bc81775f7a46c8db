package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"opal/internal/notifications"
	"opal/internal/pipeline"
	"opal/internal/providers"
	"opal/internal/stage"
)

var allStages = []pipeline.Stage{
	pipeline.StageCoordinator,
	pipeline.StageBackground,
	pipeline.StageScene,
	pipeline.StageUpscale,
	pipeline.StageExport,
}

func stageNames() []string {
	names := make([]string, 0, len(allStages))
	for _, s := range allStages {
		names = append(names, string(s))
	}
	return names
}

// parseStages resolves CLI stage names. No names selects every stage.
func parseStages(args []string) ([]pipeline.Stage, error) {
	if len(args) == 0 {
		return allStages, nil
	}
	var selected []pipeline.Stage
	for _, arg := range args {
		s := pipeline.Stage(strings.ToLower(strings.TrimSpace(arg)))
		if !slices.Contains(allStages, s) {
			return nil, fmt.Errorf("unknown stage %q (available: %s)", arg, strings.Join(stageNames(), ", "))
		}
		if !slices.Contains(selected, s) {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// buildHandlers constructs a stage handler for each selected stage. The
// notifier is only opened when the export stage is selected; the returned
// close func releases it.
func (r *runtime) buildHandlers(selected []pipeline.Stage) ([]stage.Handler, func() error, error) {
	set, err := providers.Builtin().BuildSet(r.cfg)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error { return nil }
	handlers := make([]stage.Handler, 0, len(selected))
	for _, s := range selected {
		switch s {
		case pipeline.StageCoordinator:
			handlers = append(handlers, r.pipe.Coordinator())
		case pipeline.StageBackground:
			handlers = append(handlers, r.pipe.Worker(s, set.Background))
		case pipeline.StageScene:
			handlers = append(handlers, r.pipe.Worker(s, set.Scene))
		case pipeline.StageUpscale:
			handlers = append(handlers, r.pipe.Worker(s, set.Upscale))
		case pipeline.StageExport:
			notifier, err := notifications.NewService(r.cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("build export sinks: %w", err)
			}
			closeFn = notifier.Close
			ttl := time.Duration(r.cfg.Exports.DownloadTTL) * time.Second
			handlers = append(handlers, r.pipe.Exporter(notifier, ttl))
		}
	}
	return handlers, closeFn, nil
}
