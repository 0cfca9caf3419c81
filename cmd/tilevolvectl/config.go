package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"tilevolve/pkg/tilevolve"
)

const trainingSection = "training"

// trainingFile is the on-disk training config. The same keys are used by
// the .ini, .yaml and .json forms.
type trainingFile struct {
	RunID            string  `ini:"run_id" yaml:"run_id" json:"run_id"`
	Continue         bool    `ini:"continue" yaml:"continue" json:"continue"`
	LayerSizes       []int   `ini:"layers" delim:"," yaml:"layers" json:"layers"`
	HiddenActivation string  `ini:"hidden_activation" yaml:"hidden_activation" json:"hidden_activation"`
	OutputActivation string  `ini:"output_activation" yaml:"output_activation" json:"output_activation"`
	Population       int     `ini:"population" yaml:"population" json:"population"`
	TopPercentile    int     `ini:"top_percentile" yaml:"top_percentile" json:"top_percentile"`
	MaxFailures      int     `ini:"max_failures" yaml:"max_failures" json:"max_failures"`
	MutateRange      float64 `ini:"mutate_range" yaml:"mutate_range" json:"mutate_range"`
	StopGeneration   int     `ini:"stop_generation" yaml:"stop_generation" json:"stop_generation"`
	TickRate         float64 `ini:"tick_rate" yaml:"tick_rate" json:"tick_rate"`
	FrameRate        float64 `ini:"frame_rate" yaml:"frame_rate" json:"frame_rate"`
	Fast             bool    `ini:"fast" yaml:"fast" json:"fast"`
	MaxFrames        int     `ini:"max_frames" yaml:"max_frames" json:"max_frames"`
	Seed             int64   `ini:"seed" yaml:"seed" json:"seed"`
	SnapshotPath     string  `ini:"snapshot_path" yaml:"snapshot_path" json:"snapshot_path"`
}

func fileFromRequest(req tilevolve.TrainRequest) trainingFile {
	return trainingFile{
		RunID:            req.RunID,
		Continue:         req.Continue,
		LayerSizes:       append([]int(nil), req.LayerSizes...),
		HiddenActivation: req.HiddenActivation,
		OutputActivation: req.OutputActivation,
		Population:       req.Population,
		TopPercentile:    req.TopPercentile,
		MaxFailures:      req.MaxFailures,
		MutateRange:      req.MutateRange,
		StopGeneration:   req.StopGeneration,
		TickRate:         req.TickRate,
		FrameRate:        req.FrameRate,
		Fast:             req.Fast,
		MaxFrames:        req.MaxFrames,
		Seed:             req.Seed,
		SnapshotPath:     req.SnapshotPath,
	}
}

func (f trainingFile) request() tilevolve.TrainRequest {
	return tilevolve.TrainRequest{
		RunID:            f.RunID,
		Continue:         f.Continue,
		LayerSizes:       append([]int(nil), f.LayerSizes...),
		HiddenActivation: f.HiddenActivation,
		OutputActivation: f.OutputActivation,
		Population:       f.Population,
		TopPercentile:    f.TopPercentile,
		MaxFailures:      f.MaxFailures,
		MutateRange:      f.MutateRange,
		StopGeneration:   f.StopGeneration,
		TickRate:         f.TickRate,
		FrameRate:        f.FrameRate,
		Fast:             f.Fast,
		MaxFrames:        f.MaxFrames,
		Seed:             f.Seed,
		SnapshotPath:     f.SnapshotPath,
	}
}

// loadTrainRequestFromConfig reads a training config over the defaults. Keys
// absent from the file keep their default values.
func loadTrainRequestFromConfig(path string) (tilevolve.TrainRequest, error) {
	file := fileFromRequest(tilevolve.DefaultTrainRequest())

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ini":
		cfg, err := ini.LoadSources(ini.LoadOptions{
			IgnoreInlineComment:         true,
			UnescapeValueCommentSymbols: true,
		}, path)
		if err != nil {
			return tilevolve.TrainRequest{}, fmt.Errorf("failed to load config file '%s': %w", path, err)
		}
		section, err := cfg.GetSection(trainingSection)
		if err != nil {
			return tilevolve.TrainRequest{}, fmt.Errorf("config file '%s' has no [%s] section", path, trainingSection)
		}
		if err := section.MapTo(&file); err != nil {
			return tilevolve.TrainRequest{}, fmt.Errorf("failed to map [%s] section: %w", trainingSection, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return tilevolve.TrainRequest{}, err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return tilevolve.TrainRequest{}, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return tilevolve.TrainRequest{}, err
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return tilevolve.TrainRequest{}, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return tilevolve.TrainRequest{}, fmt.Errorf("unsupported config format %q (want .ini, .yaml, .yml or .json)", ext)
	}
	return file.request(), nil
}

func loadOrDefaultTrainRequest(configPath string) (tilevolve.TrainRequest, error) {
	if configPath == "" {
		return tilevolve.DefaultTrainRequest(), nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return tilevolve.TrainRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// overrideFromFlags applies only the flags the user set explicitly.
func overrideFromFlags(req *tilevolve.TrainRequest, fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		v := getter.Get()
		switch f.Name {
		case "run-id":
			req.RunID = v.(string)
		case "continue":
			req.Continue = v.(bool)
		case "layers":
			req.LayerSizes, err = parseLayerSizes(v.(string))
		case "hidden-activation":
			req.HiddenActivation = v.(string)
		case "output-activation":
			req.OutputActivation = v.(string)
		case "pop":
			req.Population = v.(int)
		case "top":
			req.TopPercentile = v.(int)
		case "max-failures":
			req.MaxFailures = v.(int)
		case "mutate-range":
			req.MutateRange = v.(float64)
		case "stop-generation":
			req.StopGeneration = v.(int)
		case "tick-rate":
			req.TickRate = v.(float64)
		case "frame-rate":
			req.FrameRate = v.(float64)
		case "fast":
			req.Fast = v.(bool)
		case "max-frames":
			req.MaxFrames = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "snapshot":
			req.SnapshotPath = v.(string)
		}
	})
	return err
}

func parseLayerSizes(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("layer size %q: %w", part, err)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("layers must list at least one size")
	}
	return sizes, nil
}

func formatLayerSizes(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
