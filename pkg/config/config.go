// Package config provides a reusable loader for swarmcore node configuration
// files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"swarmcore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a swarmcore node: gossip
// transport, committee/quorum defaults, and the checkpoint/pruning
// schedule, mirroring the CLI surface of §6.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"network" json:"network"`

	Committee struct {
		BootstrapThreshold int     `mapstructure:"bootstrap_threshold" json:"bootstrap_threshold"`
		KTarget            int     `mapstructure:"k_target" json:"k_target"`
		MinVerifierStake   float64 `mapstructure:"min_verifier_stake" json:"min_verifier_stake"`
		MaxOrgFrac         float64 `mapstructure:"max_org_frac" json:"max_org_frac"`
		MaxASNFrac         float64 `mapstructure:"max_asn_frac" json:"max_asn_frac"`
		MaxRegionFrac      float64 `mapstructure:"max_region_frac" json:"max_region_frac"`
	} `mapstructure:"committee" json:"committee"`

	Decide struct {
		Backend string `mapstructure:"backend" json:"backend"` // "raft" or "cas"
	} `mapstructure:"decide" json:"decide"`

	Checkpoint struct {
		KeepEpochs      int `mapstructure:"keep_epochs" json:"keep_epochs"`
		SignatureQuorum int `mapstructure:"signature_quorum" json:"signature_quorum"`
	} `mapstructure:"checkpoint" json:"checkpoint"`

	Storage struct {
		StateDir string `mapstructure:"state_dir" json:"state_dir"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads the default configuration file plus an optional per-env
// override from cfgDir, merges in environment variable overrides, and
// stores the result in AppConfig.
func Load(cfgDir, env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath(cfgDir)
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

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SWARMCORE_ENV environment
// variable to select the override file, defaulting cfgDir to "config".
func LoadFromEnv() (*Config, error) {
	return Load("config", utils.EnvOrDefault("SWARMCORE_ENV", ""))
}
