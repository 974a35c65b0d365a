package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/mipmap"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/zarr"

	// Registered storage engines.
	_ "github.com/janelia-flyem/mipmapper/storage/badger"
	_ "github.com/janelia-flyem/mipmapper/storage/blobstore"
	_ "github.com/janelia-flyem/mipmapper/storage/filestore"
)

// Version of the mipmap command.
const Version = "0.1.0"

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to TOML configuration file.
	configFile = flag.String("config", "", "")
)

const helpMessage = `
mipmap builds max-pooled multi-resolution pyramids and intensity statistics of 4-D zarr volumes

Usage: mipmap [options] <command>

      -config     =string   Path to TOML configuration file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	build  [base array path] [target=N] [bins=N] [prefix=path] [concurrency=N]
	stats  [array path]
	attrs

The store, build and volume settings are read from the configuration file, e.g.,

	[logging]
	logfile = "mipmap.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[store]
	engine = "filestore"  # also "badger", "blobstore" (url = "gs://bucket"), "memory"
	path = "volume.zarr"

	[cache]
	size = 512  # MB

	[build]
	base = "/raw"
	target_max_dimension = 64

	[volume]
	voxel_size = [8.0, 8.0, 40.0]
	voxel_unit = "nanometer"
	channels = ["GFP", "RFP"]
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}

	if *runVerbose {
		dvid.Verbose = true
		dvid.SetLogMode(dvid.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	// Capture ctrl+c and other interrupts to stop a build between chunks.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := dvid.Command(flag.Args())
	err := DoCommand(ctx, command)
	dvid.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd dvid.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("Blank command!")
	}

	switch cmd.Name() {
	case "about":
		fmt.Printf("mipmap %s\n\nStorage engines: %s\n", Version, storage.EnginesAvailable())
		return nil
	case "build", "stats", "attrs":
	default:
		return fmt.Errorf("unknown command %q, try 'mipmap help'", cmd.Name())
	}

	tc, err := LoadConfig(*configFile)
	if err != nil {
		return err
	}
	tc.Logging.SetLogger()
	store, err := tc.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(store); err != nil {
			dvid.Errorf("Closing store %s: %v\n", store, err)
		}
	}()

	switch cmd.Name() {
	case "build":
		return DoBuild(ctx, tc, store, cmd)
	case "stats":
		return DoStats(ctx, tc, store, cmd)
	default:
		return DoAttrs(ctx, tc, store)
	}
}

// DoBuild performs the "build" command, writing the pyramid of the base array.
func DoBuild(ctx context.Context, tc *tomlConfig, store storage.Store, cmd dvid.Command) error {
	config, err := tc.BuildConfig(store, cmd)
	if err != nil {
		return err
	}
	if err := initRootAttributes(ctx, tc, config); err != nil {
		return err
	}
	result, err := mipmap.BuildMipmaps(ctx, config)
	if err != nil {
		return err
	}
	if cached, ok := store.(*storage.CachedStore); ok {
		dvid.Infof("Cache hit rate %.1f%%\n", cached.HitRate()*100)
	}
	fmt.Printf("Built %d levels of %s: %v\n", len(result.Levels), config.BasePath, result.Levels)
	return printJSON(result.Stats)
}

// initRootAttributes writes root attributes from the [volume] settings if the store has
// none yet, or completes a root group written by another tool, so builds record the
// configured voxel size and channel labels.
func initRootAttributes(ctx context.Context, tc *tomlConfig, config mipmap.BuildConfig) error {
	rootPath := config.RootGroupPath
	if rootPath == "" {
		rootPath = mipmap.DefaultRootGroupPath
	}
	existing, err := mipmap.ReadRootAttributes(ctx, config.Store, rootPath)
	if err != nil || (existing != nil && existing.Layout != "") {
		return err
	}
	base, err := zarr.Open(ctx, config.Store, config.BasePath)
	if err != nil {
		return err
	}
	channels := base.Shape()[0]
	labels := tc.Volume.Channels
	if len(labels) == 0 {
		labels = mipmap.DefaultChannelLabels(channels)
	} else if len(labels) != channels {
		return fmt.Errorf("%d channel labels configured for %d channel array %s", len(labels), channels, base.Path())
	}
	voxelSize, err := tc.VoxelSize()
	if err != nil {
		return err
	}
	if existing == nil {
		existing = mipmap.CreateRootAttributes(voxelSize, labels, nil)
	} else {
		existing.Complete(voxelSize, labels)
	}
	return mipmap.WriteRootAttributes(ctx, config.Store, rootPath, existing)
}

// DoStats performs the "stats" command, printing recorded statistics of an array.
func DoStats(ctx context.Context, tc *tomlConfig, store storage.Store, cmd dvid.Command) error {
	arrayPath := cmd.Argument(1)
	if arrayPath == "" {
		arrayPath = tc.Build.Base
	}
	if arrayPath == "" {
		return fmt.Errorf("stats command must be followed by an array path")
	}
	attrs, err := mipmap.ReadRootAttributes(ctx, store, rootGroup(tc))
	if err != nil {
		return err
	}
	stats, found := mipmap.StatsFor(attrs, arrayPath)
	if !found {
		return fmt.Errorf("no statistics recorded for array %s", arrayPath)
	}
	return printJSON(stats)
}

// DoAttrs performs the "attrs" command, printing the root attributes.
func DoAttrs(ctx context.Context, tc *tomlConfig, store storage.Store) error {
	attrs, err := mipmap.ReadRootAttributes(ctx, store, rootGroup(tc))
	if err != nil {
		return err
	}
	if attrs == nil {
		return fmt.Errorf("no readable root attributes in store %s", store)
	}
	return printJSON(attrs)
}

func rootGroup(tc *tomlConfig) string {
	if tc.Build.RootGroup != "" {
		return tc.Build.RootGroup
	}
	return mipmap.DefaultRootGroupPath
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
