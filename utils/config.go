package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// DatabaseConfig holds the connection parameters of the PostGIS
// catalog. Values read from the config file are overridden by the
// usual libpq environment variables when these are set.
type DatabaseConfig struct {
	Host         string `json:"host" env:"PGHOST"`
	Port         int    `json:"port" env:"PGPORT"`
	User         string `json:"user" env:"PGUSER"`
	Password     string `json:"-" env:"PGPASSWORD"`
	Name         string `json:"name" env:"PGDATABASE"`
	SSLMode      string `json:"ssl_mode" env:"PGSSLMODE"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// DSN returns a libpq key/value connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.User),
		fmt.Sprintf("dbname=%s", d.Name),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	}
	if len(d.Password) > 0 {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	return strings.Join(parts, " ")
}

// GridConfig describes the nested tile pyramid all tuplekeys refer to.
// The origin is the north-west corner of the level 0 tile in the
// projected CRS identified by SRID.
type GridConfig struct {
	OriginX      float64 `json:"origin_x"`
	OriginY      float64 `json:"origin_y"`
	BaseTileSize float64 `json:"base_tile_size"`
	BaseGsd      float64 `json:"base_gsd"`
	SRID         int     `json:"srid"`
}

type AccumulationConfig struct {
	Mode              string `json:"mode"`
	OnError           string `json:"on_error"`
	ComputationMethod string `json:"computation_method"`
}

type MergeConfig struct {
	Enabled     bool     `json:"enabled"`
	Command     []string `json:"command"`
	Concurrency int      `json:"concurrency"`
	Builtin     bool     `json:"builtin"`
}

type MetricsConfig struct {
	LogDir         string `json:"log_dir"`
	MaxLogFileSize int64  `json:"max_log_file_size"`
	MaxLogFiles    int    `json:"max_log_files"`
	TextFile       string `json:"textfile"`
}

type APIConfig struct {
	Port     int    `json:"port"`
	Memcache string `json:"memcache"`
}

// Config is the struct representing the configuration of the
// accumulation pipeline and its auxiliary services.
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Grid         GridConfig         `json:"grid"`
	Accumulation AccumulationConfig `json:"accumulation"`
	Merge        MergeConfig        `json:"merge"`
	Metrics      MetricsConfig      `json:"metrics"`
	API          APIConfig          `json:"api"`
}

const (
	ModeByRoi     = "roi"
	ModeByRoiTile = "roi_tile"
	ModeByTile    = "tile"

	OnErrorAbort    = "abort"
	OnErrorContinue = "continue"
)

// DefaultMergeCommand mosaics the per tile rasters of one ROI. The
// output path and the input files are appended at run time.
var DefaultMergeCommand = []string{"gdal_merge.py", "-n", "-9999", "-a_nodata", "-9999", "-o"}

// LoadConfigFile marshalls the config.json document returning an
// instance of a Config variable containing all the values
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	if err = cleanenv.ReadEnv(&config.Database); err != nil {
		return fmt.Errorf("Error reading database environment: %v", err)
	}

	config.applyDefaults()
	return config.Validate()
}

func (config *Config) applyDefaults() {
	if config.Database.Host == "" {
		config.Database.Host = "localhost"
	}
	if config.Database.Port == 0 {
		config.Database.Port = 5432
	}
	if config.Database.SSLMode == "" {
		config.Database.SSLMode = "disable"
	}
	if config.Database.MaxOpenConns <= 0 {
		config.Database.MaxOpenConns = 8
	}
	if config.Database.MaxIdleConns <= 0 {
		config.Database.MaxIdleConns = 4
	}
	if config.Accumulation.Mode == "" {
		config.Accumulation.Mode = ModeByRoi
	}
	if config.Accumulation.OnError == "" {
		config.Accumulation.OnError = OnErrorAbort
	}
	if len(config.Merge.Command) == 0 {
		config.Merge.Command = DefaultMergeCommand
	}
	if config.Merge.Concurrency <= 0 {
		config.Merge.Concurrency = 4
	}
	if config.API.Port == 0 {
		config.API.Port = 8080
	}
}

// Validate checks the values that cannot be defaulted.
func (config *Config) Validate() error {
	switch config.Accumulation.Mode {
	case ModeByRoi, ModeByRoiTile, ModeByTile:
	default:
		return fmt.Errorf("unknown accumulation mode %q", config.Accumulation.Mode)
	}

	switch config.Accumulation.OnError {
	case OnErrorAbort, OnErrorContinue:
	default:
		return fmt.Errorf("unknown on_error policy %q", config.Accumulation.OnError)
	}

	g := config.Grid
	if g.BaseTileSize <= 0 || g.BaseGsd <= 0 {
		return fmt.Errorf("grid base_tile_size and base_gsd must be positive")
	}
	if g.BaseGsd > g.BaseTileSize {
		return fmt.Errorf("grid base_gsd %v larger than base_tile_size %v", g.BaseGsd, g.BaseTileSize)
	}
	if g.SRID <= 0 {
		return fmt.Errorf("grid srid must be set")
	}
	return nil
}
