package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the bridge
// host and its companion tools.
type Config struct {
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Transport struct {
		// Channel over which the gamemode client connects. Options: tcp, unix
		Kind string `mapstructure:"kind"`
		// Listen address for the tcp transport.
		Address string `mapstructure:"address"`
		// Socket file path for the unix transport.
		SocketPath string `mapstructure:"socket_path"`
	} `mapstructure:"transport"`

	Game struct {
		// Interval between server frames in milliseconds.
		TickIntervalMs int `mapstructure:"tick_interval_ms"`
		// Name of the game mode reported to tooling.
		ModeText string `mapstructure:"mode_text"`
	} `mapstructure:"game"`

	Database struct {
		// Engine backing the session store. Options: sqlite, postgres
		Engine string `mapstructure:"engine"`
		// Record every frame exchanged with the gamemode client.
		RecordSessions bool `mapstructure:"record_sessions"`
		// Name of the sqlite database file, relative to the config directory.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for the session store.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof/metrics server will be started if debug mode is enabled.
		Port int `mapstructure:"port"`
		// Log every command sent to or received from the gamemode client.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "GMBRIDGE"

// defaultTickInterval approximates the frame rate of the stock game server
// main loop.
const defaultTickInterval = 5 * time.Millisecond

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, viper.ConfigFileNotFoundError{}) {
			fmt.Printf("error reading config file: no config file in path %s", configPath)
		} else {
			fmt.Printf("error reading config file: %v", err)
		}
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, transport.address can be set using: <envVarPrefix>_TRANSPORT_ADDRESS
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v", err)
		os.Exit(1)
	}
	return config
}

// TickInterval returns the configured frame interval, falling back to the
// stock rate when the option is unset or nonsensical.
func (c *Config) TickInterval() time.Duration {
	if c.Game.TickIntervalMs <= 0 {
		return defaultTickInterval
	}
	return time.Duration(c.Game.TickIntervalMs) * time.Millisecond
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// QualifiedPath returns filename anchored to the directory the config file
// was loaded from, so data files live beside the config regardless of the
// process working directory.
func (c *Config) QualifiedPath(filename string) string {
	return filepath.Join(filepath.Dir(viper.ConfigFileUsed()), filename)
}
