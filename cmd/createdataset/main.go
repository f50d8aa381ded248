package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhlegarreta/dwi-ml/pkg/config"
	"github.com/jhlegarreta/dwi-ml/pkg/dataset"
)

func main() {
	configPath := flag.String("config", "", "Dataset configuration document (YAML or JSON)")
	rawPath := flag.String("raw", "", "Directory containing per-subject folders")
	outputPath := flag.String("output", "dataset_output", "Directory for per-subject outputs")
	volumeType := flag.String("volume-type", "dwi", "Feature volume type: dwi, dwi_sh, fodf_sh or fodf_peaks")
	resample := flag.Bool("resample", false, "Regularize the raw DWI signal through the SH basis (dwi only)")
	shOrder := flag.Int("sh-order", 6, "Spherical harmonic order (dwi_sh, fodf_sh, fodf_peaks)")
	nPeaks := flag.Int("n-peaks", 1, "Number of fODF peaks per voxel (fodf_peaks only)")
	subjectIDs := flag.String("subject-ids", "", "Comma-separated subject ids overriding the config document")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *configPath == "" || *rawPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}

	var strategy dataset.Strategy
	switch *volumeType {
	case "dwi":
		strategy = dataset.NewRawStrategy(*resample)
	case "dwi_sh":
		strategy, err = dataset.NewSHStrategy(*shOrder)
	case "fodf_sh":
		strategy, err = dataset.NewFODFSHStrategy(*shOrder, nil, logger)
	case "fodf_peaks":
		strategy, err = dataset.NewFODFPeaksStrategy(*shOrder, *nPeaks, nil, logger)
	default:
		err = fmt.Errorf("unknown volume type %q", *volumeType)
	}
	if err != nil {
		logger.Error("building volume strategy failed", "error", err)
		os.Exit(1)
	}

	var callerSubjects []string
	if *subjectIDs != "" {
		callerSubjects = strings.Split(*subjectIDs, ",")
	}

	creator, err := dataset.NewCreator(cfg, strategy, *rawPath, *outputPath, callerSubjects, logger)
	if err != nil {
		logger.Error("dataset creation aborted", "error", err)
		os.Exit(1)
	}

	logger.Info("starting dataset creation",
		"subjects", len(creator.Subjects()), "volume_type", *volumeType)
	start := time.Now()

	records, err := creator.Run()
	if err != nil {
		logger.Error("dataset creation failed", "error", err)
		os.Exit(1)
	}

	// Persist the dataset-level provenance next to the per-subject
	// outputs.
	state, err := json.MarshalIndent(creator.StateDict(), "", "  ")
	if err == nil {
		statePath := filepath.Join(*outputPath, "dataset_parameters.json")
		if writeErr := os.WriteFile(statePath, state, 0644); writeErr != nil {
			logger.Warn("could not write provenance record", "error", writeErr)
		}
	}

	for _, record := range records {
		logger.Info("subject complete",
			"subject", record.SubjectID,
			"streamlines", record.StreamlineCount,
			"original_streamlines", record.OriginalStreamlineCount)
	}
	logger.Info("dataset creation finished",
		"subjects", len(records), "elapsed", time.Since(start).Round(time.Millisecond))
}
