package config

// Package config provides a reusable loader for Teapotnet configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"teapotnet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a Teapotnet node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		Identity       string   `mapstructure:"identity" json:"identity"`             // path to long-term keypair
		ListenTCP      string   `mapstructure:"listen_tcp" json:"listen_tcp"`         // StreamBackend listen address
		ListenUDP      string   `mapstructure:"listen_udp" json:"listen_udp"`         // DatagramBackend listen address
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		MaxHops        int      `mapstructure:"max_hops" json:"max_hops"`
		RouteTableCap  int      `mapstructure:"route_table_cap" json:"route_table_cap"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Transport struct {
		CertFile string `mapstructure:"cert_file" json:"cert_file"`
		KeyFile  string `mapstructure:"key_file" json:"key_file"`
		PSKFile  string `mapstructure:"psk_file" json:"psk_file"` // name -> 32-byte secret, yaml
	} `mapstructure:"transport" json:"transport"`

	Storage struct {
		CacheDir         string `mapstructure:"cache_dir" json:"cache_dir"`
		CacheSizeEntries int    `mapstructure:"cache_size_entries" json:"cache_size_entries"`
		BlockSize        int    `mapstructure:"block_size" json:"block_size"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded. A ".env" file in the working directory, if present, is loaded
// before environment variables are read so local overrides do not
// require exporting shell variables.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best effort; absence of .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("TPN")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the TPN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("TPN_ENV", ""))
}
