package tnd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog/v2"
	flags "github.com/jessevdk/go-flags"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/build"
	"github.com/tronnode/tnd/signal"
	"github.com/tronnode/tnd/tncfg"
)

const (
	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
	defaultLogFilename = "tnd.log"
	defaultLogLevel    = "info"
)

var (
	// DefaultTndDir is the default directory where tnd tries to find its
	// configuration file and store its data.
	DefaultTndDir = btcutil.AppDataDir("tnd", false)

	// DefaultConfigFile is the default full path of tnd's configuration
	// file.
	DefaultConfigFile = filepath.Join(
		DefaultTndDir, tncfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultTndDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultTndDir, defaultLogDirname)
)

// Config defines the configuration options for tnd.
//
// See LoadConfig for further details regarding the configuration loading+
// parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	TndDir     string `long:"tnddir" description:"The base directory that contains tnd's data, logs and configuration file."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store tnd's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	P2P *tncfg.P2P `group:"p2p" namespace:"p2p"`

	Sync *tncfg.Sync `group:"sync" namespace:"sync"`

	Adv *tncfg.Adv `group:"adv" namespace:"adv"`

	PeerCheck *tncfg.PeerCheck `group:"peercheck" namespace:"peercheck"`

	Workers *tncfg.Workers `group:"workers" namespace:"workers"`

	Prometheus tncfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *tncfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	// Listeners are the normalized p2p listen addresses.
	Listeners []net.Addr

	// ConnectPeers are the normalized addresses of permanent peers.
	ConnectPeers []net.Addr

	// logMgr hands out and tracks the subsystem loggers.
	logMgr *build.SubLoggerManager

	// logRotator writes the log file. It is closed by Main.
	logRotator *build.RotatingLogWriter
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		TndDir:     DefaultTndDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		LogConfig:  build.DefaultLogConfig(),
		P2P:        tncfg.DefaultP2P(),
		Sync: &tncfg.Sync{
			Interval:          tncfg.DefaultSyncInterval,
			MaxBlocksInFlight: tncfg.DefaultMaxBlocksInFlight,
		},
		Adv: &tncfg.Adv{
			FetchInterval: tncfg.DefaultFetchInterval,
			PeerCacheSize: advsvc.DefaultPeerCacheSize,
		},
		PeerCheck: &tncfg.PeerCheck{
			Interval:     tncfg.DefaultCheckInterval,
			SyncTimeout:  tncfg.DefaultSyncTimeout,
			FetchTimeout: tncfg.DefaultFetchTimeout,
			IdleTimeout:  tncfg.DefaultIdleTimeout,
		},
		Workers: &tncfg.Workers{
			Tx:       tncfg.DefaultTxWorkers,
			TxRate:   tncfg.DefaultTxRate,
			TxQueue:  tncfg.DefaultTxQueue,
			PoolSize: tncfg.DefaultPoolSize,
		},
		Prometheus:   tncfg.DefaultPrometheus(),
		HealthChecks: tncfg.DefaultHealthChecks(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their tnddir, then we should assume they intend to use the
	// config file within it.
	configFileDir := tncfg.CleanAndExpandPath(preCfg.TndDir)
	configFilePath := tncfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultTndDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, tncfg.DefaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	if err := cleanCfg.setupLogging(interceptor); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.
	if configFileError != nil {
		tndLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. File system paths
// and peer addresses are normalized. The cleaned up config is returned on
// success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided tnd directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	tndDir := tncfg.CleanAndExpandPath(cfg.TndDir)
	if tndDir != DefaultTndDir {
		cfg.DataDir = filepath.Join(tndDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(tndDir, defaultLogDirname)
	}
	cfg.TndDir = tndDir
	cfg.DataDir = tncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = tncfg.CleanAndExpandPath(cfg.LogDir)

	for _, dir := range []string{cfg.TndDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create tnd "+
				"directory %v: %w", dir, err)
		}
	}

	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, err
	}

	err := tncfg.Validate(
		cfg.P2P, cfg.Sync, cfg.Adv, cfg.PeerCheck, cfg.Workers,
		cfg.HealthChecks,
	)
	if err != nil {
		return nil, err
	}

	if cfg.Prometheus.Enabled() && cfg.Prometheus.Listen == "" {
		return nil, errors.New("prometheus listen address required")
	}

	defaultPort := strconv.Itoa(tncfg.DefaultP2PPort)
	if !cfg.P2P.NoListen {
		cfg.Listeners, err = tncfg.NormalizeAddresses(
			cfg.P2P.RawListeners, defaultPort, net.ResolveTCPAddr,
		)
		if err != nil {
			return nil, err
		}
	}

	cfg.ConnectPeers, err = tncfg.NormalizeAddresses(
		cfg.P2P.RawConnectPeers, defaultPort, net.ResolveTCPAddr,
	)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setupLogging creates the subsystem loggers, attaches the log file and
// applies the debug levels.
func (c *Config) setupLogging(interceptor signal.Interceptor) error {
	logWriter := &build.LogWriter{}
	handler := btclog.NewDefaultHandler(
		logWriter, c.LogConfig.HandlerOptions()...,
	)
	c.logMgr = build.NewSubLoggerManager(handler)
	SetupLoggers(c.logMgr, interceptor)

	// Special show command to list supported subsystems and exit.
	if c.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			c.logMgr.SupportedSubsystems())
		os.Exit(0)
	}

	if !c.LogConfig.File.Disable {
		c.logRotator = build.NewRotatingLogWriter()
		err := c.logRotator.InitLogRotator(
			c.LogConfig.File, c.logFile(),
		)
		if err != nil {
			return fmt.Errorf("log rotation setup failed: %w", err)
		}
		logWriter.AttachRotator(c.logRotator)
	}

	// Parse, validate, and set debug log level(s).
	return build.ParseAndSetDebugLevels(c.DebugLevel, c.logMgr)
}

// logFile returns the path of the daemon's log file.
func (c *Config) logFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// dialTimeout bounds outbound connection attempts.
const dialTimeout = 10 * time.Second

// dial connects to a peer over TCP.
func dial(addr net.Addr) (net.Conn, error) {
	return net.DialTimeout(addr.Network(), addr.String(), dialTimeout)
}
