package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"tilevolve/internal/storage"
	"tilevolve/pkg/tilevolve"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "play":
		return runPlay(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "population":
		return runPopulation(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	logLevel  *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", "tilevolve.db", "sqlite database path"),
		runsDir:   fs.String("runs-dir", runsDir, "run artifacts directory"),
		logLevel:  fs.String("log-level", "warn", "log level: debug|info|warn|error"),
	}
}

func (f clientFlags) open() (*tilevolve.Client, error) {
	logger, err := newLogger(*f.logLevel)
	if err != nil {
		return nil, err
	}
	return tilevolve.New(tilevolve.Options{
		StoreKind:  *f.storeKind,
		DBPath:     *f.dbPath,
		RunsDir:    *f.runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func runTrain(ctx context.Context, args []string) error {
	defaults := tilevolve.DefaultTrainRequest()
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	common := addClientFlags(fs)
	configPath := fs.String("config", "", "optional training config (.ini, .yaml or .json)")
	fs.String("run-id", "", "explicit run id (default: random uuid)")
	fs.Bool("continue", false, "continue the stored population of --run-id")
	fs.String("layers", formatLayerSizes(defaults.LayerSizes), "comma separated layer sizes, 17 inputs and 4 outputs")
	fs.String("hidden-activation", defaults.HiddenActivation, "hidden layer activation: Sigmoid|TanH|ReLU|SiLU|Softmax")
	fs.String("output-activation", defaults.OutputActivation, "output layer activation")
	fs.Int("pop", defaults.Population, "population size")
	fs.Int("top", defaults.TopPercentile, "elite percentile kept each generation")
	fs.Int("max-failures", defaults.MaxFailures, "illegal moves tolerated before falling back to the next ranked move")
	fs.Float64("mutate-range", defaults.MutateRange, "upper bound of the per-network mutation amount")
	fs.Int("stop-generation", defaults.StopGeneration, "last generation to play, negative runs until interrupted")
	fs.Float64("tick-rate", defaults.TickRate, "control ticks per second")
	fs.Float64("frame-rate", defaults.FrameRate, "host frames per second")
	fs.Bool("fast", false, "simulate the clock instead of waiting on it")
	fs.Int("max-frames", 0, "stop after this many frames (0 disables)")
	fs.Int64("seed", defaults.Seed, "rng seed")
	fs.String("snapshot", "", "path the best network is written to when training halts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&req, fs); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s stop_reason=%s resumed=%t generations=%d highest_tile=%s best_network_id=%d final_best_fitness=%s\n",
		summary.RunID,
		summary.StopReason,
		summary.Resumed,
		summary.Generations,
		tileValue(summary.HighestTile),
		summary.BestNetworkID,
		humanize.Commaf(summary.FinalBestFitness),
	)
	fmt.Printf("fitness initial=%s final=%s max=%s mean=%s improvement=%s\n",
		humanize.Commaf(summary.Fitness.InitialBest),
		humanize.Commaf(summary.Fitness.FinalBest),
		humanize.Commaf(summary.Fitness.BestMax),
		humanize.Commaf(summary.Fitness.BestMean),
		humanize.Commaf(summary.Fitness.Improvement),
	)
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	if summary.SnapshotPath != "" {
		fmt.Printf("snapshot=%s\n", summary.SnapshotPath)
	}
	return nil
}

func runPlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "play the best network of this run")
	latest := fs.Bool("latest", false, "play the best network of the latest run")
	snapshot := fs.String("snapshot", "", "network snapshot file to play")
	layers := fs.String("layers", "", "layer sizes for the fallback network (default: stock topology)")
	episodes := fs.Int("episodes", 1, "episodes to play")
	maxFailures := fs.Int("max-failures", 10, "illegal moves tolerated before falling back to the next ranked move")
	tickRate := fs.Float64("tick-rate", 30, "control ticks per second")
	frameRate := fs.Float64("frame-rate", 60, "host frames per second")
	fast := fs.Bool("fast", false, "simulate the clock instead of waiting on it")
	maxFrames := fs.Int("max-frames", 0, "stop after this many frames (0 disables)")
	seed := fs.Int64("seed", 1, "rng seed")
	jsonOut := fs.Bool("json", false, "emit the playback summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *episodes <= 0 {
		return errors.New("episodes must be > 0")
	}

	var layerSizes []int
	if *layers != "" {
		sizes, err := parseLayerSizes(*layers)
		if err != nil {
			return err
		}
		layerSizes = sizes
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Play(ctx, tilevolve.PlayRequest{
		RunID:        *runID,
		Latest:       *latest,
		SnapshotPath: *snapshot,
		LayerSizes:   layerSizes,
		Episodes:     *episodes,
		MaxFailures:  *maxFailures,
		TickRate:     *tickRate,
		FrameRate:    *frameRate,
		Fast:         *fast,
		MaxFrames:    *maxFrames,
		Seed:         *seed,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}

	source := "fresh"
	if summary.Loaded {
		source = "loaded"
	}
	fmt.Printf("network_id=%d source=%s stop_reason=%s episodes=%d\n", summary.NetworkID, source, summary.StopReason, len(summary.Episodes))
	for _, ep := range summary.Episodes {
		fmt.Printf("episode=%d score=%s rounds=%s highest_tile=%s fitness=%s\n",
			ep.Episode,
			humanize.Comma(int64(ep.Score)),
			humanize.Comma(int64(ep.Rounds)),
			tileValue(ep.Highest),
			humanize.Commaf(ep.Fitness),
		)
	}
	fmt.Printf("mean_score=%s best_score=%s highest_tile=%s\n",
		humanize.Commaf(summary.MeanScore),
		humanize.Comma(int64(summary.BestScore)),
		tileValue(summary.HighestTile),
	)
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "inspect the best network of this run")
	latest := fs.Bool("latest", false, "inspect the best network of the latest run")
	snapshot := fs.String("snapshot", "", "network snapshot file to inspect")
	jsonOut := fs.Bool("json", false, "emit the inspection as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	info, err := client.Inspect(ctx, tilevolve.InspectRequest{RunID: *runID, Latest: *latest, SnapshotPath: *snapshot})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(info)
	}

	fmt.Printf("network_id=%d schema_version=%d codec_version=%d layers=%s unchanging=%t parameters=%s\n",
		info.NetworkID,
		info.SchemaVersion,
		info.CodecVersion,
		formatLayerSizes(info.LayerSizes),
		info.Unchanging,
		humanize.Comma(int64(info.Parameters)),
	)
	if *snapshot != "" {
		if st, err := os.Stat(*snapshot); err == nil {
			fmt.Printf("file=%s size=%s\n", *snapshot, humanize.Bytes(uint64(st.Size())))
		}
	}
	for i, layer := range info.Layers {
		fmt.Printf("layer=%d shape=%dx%d activation=%s weight_min=%.4f weight_max=%.4f weight_mean=%.4f bias_mean=%.4f\n",
			i, layer.Inputs, layer.Outputs, layer.Activation,
			layer.WeightMin, layer.WeightMax, layer.WeightMean, layer.BiasMean,
		)
	}
	if len(info.EmptyBoardOutputs) > 0 {
		outputs := make([]string, len(info.EmptyBoardOutputs))
		for i, v := range info.EmptyBoardOutputs {
			outputs[i] = fmt.Sprintf("%.4f", v)
		}
		fmt.Printf("empty_board outputs=[%s] preferred=%s\n", strings.Join(outputs, " "), info.PreferredMove)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, tilevolve.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s seed=%d pop=%d elites=%d gens=%d highest_tile=%s final_best_fitness=%s stop_reason=%s\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Seed,
			item.Population,
			item.EliteCount,
			item.Generations,
			tileValue(item.HighestTile),
			humanize.Commaf(item.FinalBestFitness),
			item.StopReason,
		)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the latest run")
	limit := fs.Int("limit", 0, "max generations to show (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, tilevolve.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(diagnostics)
	}
	for _, diag := range diagnostics {
		fmt.Printf("generation=%d best=%s mean=%s min=%s highest_tile=%s generation_highest=%s best_network_id=%d elites=%d\n",
			diag.Generation,
			humanize.Commaf(diag.BestFitness),
			humanize.Commaf(diag.MeanFitness),
			humanize.Commaf(diag.MinFitness),
			tileValue(diag.HighestTile),
			tileValue(diag.GenerationHighest),
			diag.BestNetworkID,
			len(diag.EliteIDs),
		)
	}
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the latest run")
	limit := fs.Int("limit", 0, "max records to show (0 shows all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	lineage, err := client.Lineage(ctx, tilevolve.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, rec := range lineage {
		fmt.Printf("generation=%d slot=%d network_id=%d operation=%s unchanging=%t\n",
			rec.Generation, rec.Slot, rec.NetworkID, rec.Operation, rec.Unchanging)
	}
	return nil
}

func runPopulation(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("population", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the latest run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	pop, err := client.Population(ctx, tilevolve.PopulationRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s generation=%d slots=%d\n", pop.RunID, pop.Generation, len(pop.Slots))
	for _, slot := range pop.Slots {
		fmt.Printf("slot=%d network_id=%d unchanging=%t fitness=%s\n",
			slot.Slot, slot.NetworkID, slot.Unchanging, humanize.Commaf(slot.Fitness))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the latest run")
	outDir := fs.String("out", exportsDir, "export directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, tilevolve.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

// tileValue renders a block exponent as the face value players see.
func tileValue(exponent int) string {
	if exponent <= 0 {
		return "0"
	}
	return humanize.Comma(int64(1) << exponent)
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: tilevolvectl <train|play|inspect|runs|diagnostics|lineage|population|export> [flags]", msg)
}
