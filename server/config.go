// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/staking"
	"github.com/computeledger/trainmgr/types"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultRESTPort       = 8545
	ledgerDirName         = "ledger"
)

// Config defines the configuration options for trainmgrd.
//
// Values are layered: defaults, then the command line, then the config file
// it names, then the command line again so that flags take precedence.
type Config struct {
	BaseDir         string         `long:"basedir"        description:"The base directory that contains the node's data, logs, configuration file, etc."`
	ConfigFile      string         `long:"configfile"     description:"Path to configuration file"                                                     short:"c"`
	DataDir         string         `long:"datadir"        description:"The directory to store the node key within"                                     short:"b"`
	DbDir           string         `long:"dbdir"          description:"The directory to store the ledger database within"`
	LogDir          string         `long:"logdir"         description:"Directory to log output."`
	DebugLog        bool           `long:"debuglog"       description:"Enable debug logs"`
	JSONLog         bool           `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles     int            `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize  int            `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	RawRESTListener string         `long:"restlisten"     description:"The interface/port/socket to listen for REST connections"                       short:"w"`
	MetricsPort     *uint16        `long:"metrics-port"   description:"The port to expose metrics"`
	Admin           types.Identity `long:"admin"          description:"Genesis administrator (defaults to the identity of the node key)"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Ledger      ledger.Config      `group:"Ledger"`
	Staking     staking.Config     `group:"Staking"`
	Settlement  settlement.Config  `group:"Settlement"`
	Attestation attestation.Config `group:"Attestation"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	baseDir := "./trainmgr"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		baseDir = filepath.Join(cacheDir, "trainmgr")
	}

	return &Config{
		BaseDir:         baseDir,
		DataDir:         filepath.Join(baseDir, defaultDataDirname),
		DbDir:           filepath.Join(baseDir, defaultDbDirName),
		LogDir:          filepath.Join(baseDir, defaultLogDirname),
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		RawRESTListener: fmt.Sprintf("localhost:%d", defaultRESTPort),
		Ledger:          ledger.DefaultConfig(),
		Staking:         staking.DefaultConfig(),
		Settlement:      settlement.DefaultConfig(),
		Attestation:     attestation.DefaultConfig(),
	}
}

// LedgerConfig assembles the ledger configuration from the option groups.
func (c *Config) LedgerConfig(admin types.Identity) ledger.Config {
	cfg := c.Ledger
	cfg.Admin = admin
	cfg.Staking = c.Staking
	cfg.Settlement = c.Settlement
	cfg.Attestation = c.Attestation
	return cfg
}

// LedgerDir is where the ledger database lives.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.DbDir, ledgerDirName)
}

func (c *Config) LogRotation() logging.Rotation {
	rot := logging.DefaultRotation
	rot.MaxFiles = c.MaxLogFiles
	if c.MaxLogFileSize > 0 {
		rot.MaxSizeMB = c.MaxLogFileSize
	}
	return rot
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("datadir", c.DataDir)
	enc.AddString("dbdir", c.DbDir)
	enc.AddString("restlisten", c.RawRESTListener)
	if c.MetricsPort != nil {
		enc.AddUint16("metrics-port", *c.MetricsPort)
	}
	return enc.AddObject("ledger", c.LedgerConfig(c.Admin))
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided base directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.BaseDir != defaultCfg.BaseDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.BaseDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.BaseDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.BaseDir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.BaseDir, err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
