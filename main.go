package main

/* cropwater accumulates the crop water requirement of every region of
   interest in the NDVI product catalog. Each output pixel is the sum,
   over the project date window, of the daily basal crop coefficient
   derived from the NDVI time series times the reference
   evapotranspiration of that day. The catalog is a PostGIS database
   filled by the crawl and init-project commands; configuration of the
   database, tile grid and merge step is read from config.json. */

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/tilegrid"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// app is what every command shares once the root has initialised.
type app struct {
	config  utils.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	grid    *tilegrid.NestedGrid
}

func rootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cropwater",
		Short:         "Crop water requirement accumulation over NDVI time series",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "config.json", "Path to the JSON configuration file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	viper.SetEnvPrefix("CROPWATER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.initialize()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if a.logger != nil {
			a.logger.Sync()
		}
	}

	rootCmd.AddCommand(
		migrateCommand(a),
		initProjectCommand(a),
		crawlCommand(a),
		accumulateCommand(a),
		mergeCommand(a),
		serveAPICommand(a),
	)
	return rootCmd
}

func (a *app) initialize() error {
	var err error
	if viper.GetBool("verbose") {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %v", err)
	}

	if err := a.config.LoadConfigFile(viper.GetString("config")); err != nil {
		return err
	}
	a.grid = tilegrid.NewNestedGrid(a.config.Grid)
	a.metrics = metrics.NewCollector("cropwater")
	return nil
}

func (a *app) openStore(ctx context.Context) (*catalog.Store, error) {
	store, err := catalog.Open(ctx, a.config.Database, a.grid, a.logger)
	if err != nil {
		return nil, err
	}
	store.SetMetrics(a.metrics)
	store.SetComputationMethod(a.config.Accumulation.ComputationMethod)
	return store, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := rootCommand(a).ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", zap.Error(err))
			a.logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
