// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/build"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcjoin/pkg/unit"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "btcjoind.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcjoind.log"
	defaultBanDuration    = 30 * 24 * time.Hour
	defaultTickInterval   = time.Second
	defaultMempoolPoll    = 10 * time.Second

	coordinatorDBName = "coordinator.db"
	coinJoinLogName   = "coinjoins.txt"
)

var (
	bitcoindHomeDir    = btcutil.AppDataDir("bitcoin", false)
	btcjoindHomeDir    = btcutil.AppDataDir("btcjoind", false)
	defaultConfigFile  = filepath.Join(btcjoindHomeDir, defaultConfigFilename)
	defaultDataDir     = btcjoindHomeDir
	defaultRPCKeyFile  = filepath.Join(btcjoindHomeDir, "rpc.key")
	defaultRPCCertFile = filepath.Join(btcjoindHomeDir, "rpc.cert")
	defaultLogDir      = filepath.Join(btcjoindHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the ban list and coinjoin log"`
	TestNet3    bool   `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	SigNet      bool   `long:"signet" description:"Use the signet test network (default mainnet)"`
	RegTest     bool   `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SimNet      bool   `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	Profile     string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`

	// Node RPC client options
	NodeConnect string `short:"c" long:"nodeconnect" description:"Hostname/IP and port of the bitcoind RPC server to connect to"`
	NodeCAFile  string `long:"nodecafile" description:"File containing root certificates to authenticate a TLS connection with bitcoind"`
	NodeNoTLS   bool   `long:"nodenotls" description:"Disable TLS for the node RPC client -- NOTE: This is only allowed if the node runs on localhost"`
	NodeUser    string `long:"nodeuser" description:"Username for bitcoind authentication"`
	NodePass    string `long:"nodepass" default-mask:"-" description:"Password for bitcoind authentication"`

	// Polling options
	MempoolPoll  time.Duration `long:"mempoolpoll" description:"Interval between two polls of the node's mempool"`
	TickInterval time.Duration `long:"tickinterval" description:"Interval the coordinator checks phase timeouts and ban expiry at"`

	// RPC server options
	RPCListeners  []string `long:"rpclisten" description:"Listen for gRPC connections on this interface/port (default port: 9840, testnet: 19840, signet: 39840, regtest: 18840, simnet: 18841)"`
	RPCCert       string   `long:"rpccert" description:"File containing the certificate file"`
	RPCKey        string   `long:"rpckey" description:"File containing the certificate key"`
	NoServerTLS   bool     `long:"noservertls" description:"Disable TLS for the RPC server -- NOTE: This is only allowed if the RPC server is bound to localhost"`
	MetricsListen string   `long:"metricslisten" description:"Serve Prometheus metrics on this interface/port"`

	// Round options
	Denomination        *cfgutil.AmountFlag `long:"denomination" description:"Initial value of the mixed outputs"`
	MinDenomination     *cfgutil.AmountFlag `long:"mindenomination" description:"The denomination is never lowered below this value"`
	AnonymitySet        int                 `long:"anonymityset" description:"Number of participants a round waits for"`
	MinAnonymitySet     int                 `long:"minanonymityset" description:"Number of participants a round needs to proceed after a timeout"`
	MaxInputsPerAlice   int                 `long:"maxinputs" description:"Maximum number of inputs a participant may register"`
	InputRegTimeout     time.Duration       `long:"inputregtimeout" description:"Length of the input registration phase"`
	ConnConfTimeout     time.Duration       `long:"connconftimeout" description:"Length of the connection confirmation phase"`
	OutputRegTimeout    time.Duration       `long:"outputregtimeout" description:"Length of the output registration phase"`
	SigningTimeout      time.Duration       `long:"signingtimeout" description:"Length of the signing phase"`
	AliceLiveness       time.Duration       `long:"aliceliveness" description:"How long a registered participant may stay silent during input registration"`
	ConfTarget          uint32              `long:"conftarget" description:"Confirmation target of the fee estimate of the first round"`
	ConfTargetFloor     uint32              `long:"conftargetfloor" description:"Lowest confirmation target successive rounds reduce to"`
	ConfTargetReduction float64             `long:"conftargetreduction" description:"Factor the confirmation target is multiplied with after each successful round"`
	FallbackFeeRate     *cfgutil.AmountFlag `long:"fallbackfeerate" description:"Fee rate per kvB used when the node has no estimate"`
	BanDuration         time.Duration       `long:"banduration" description:"How long an output is banned per level of severity"`
	NoNoteUnconfirmed   bool                `long:"nonoteunconfirmed" description:"Do not record participants that miss connection confirmation"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(btcjoindHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// roundConfig returns the round parameters selected by the configuration.
func (cfg *config) roundConfig() coordinator.RoundConfig {
	return coordinator.RoundConfig{
		Denomination:      cfg.Denomination.Amount,
		MinDenomination:   cfg.MinDenomination.Amount,
		AnonymitySet:      cfg.AnonymitySet,
		MinAnonymitySet:   cfg.MinAnonymitySet,
		MaxInputsPerAlice: cfg.MaxInputsPerAlice,
		Timeouts: coordinator.Timeouts{
			InputRegistration:      cfg.InputRegTimeout,
			ConnectionConfirmation: cfg.ConnConfTimeout,
			OutputRegistration:     cfg.OutputRegTimeout,
			Signing:                cfg.SigningTimeout,
			AliceLiveness:          cfg.AliceLiveness,
		},
		ConfirmationTarget:              cfg.ConfTarget,
		ConfirmationTargetFloor:         cfg.ConfTargetFloor,
		ConfirmationTargetReductionRate: cfg.ConfTargetReduction,
		FallbackFeeRate: unit.SatPerKVByteFromAmount(
			cfg.FallbackFeeRate.Amount,
		),
		NoteUnconfirmedAlices: !cfg.NoNoteUnconfirmed,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcjoind functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	defaults := coordinator.DefaultRoundConfig()

	// Default config.
	cfg := config{
		DebugLevel:          build.LogLevel,
		ConfigFile:          defaultConfigFile,
		DataDir:             defaultDataDir,
		LogDir:              defaultLogDir,
		RPCKey:              defaultRPCKeyFile,
		RPCCert:             defaultRPCCertFile,
		MempoolPoll:         defaultMempoolPoll,
		TickInterval:        defaultTickInterval,
		Denomination:        cfgutil.NewAmountFlag(defaults.Denomination),
		MinDenomination:     cfgutil.NewAmountFlag(defaults.MinDenomination),
		AnonymitySet:        defaults.AnonymitySet,
		MinAnonymitySet:     defaults.MinAnonymitySet,
		MaxInputsPerAlice:   defaults.MaxInputsPerAlice,
		InputRegTimeout:     defaults.Timeouts.InputRegistration,
		ConnConfTimeout:     defaults.Timeouts.ConnectionConfirmation,
		OutputRegTimeout:    defaults.Timeouts.OutputRegistration,
		SigningTimeout:      defaults.Timeouts.Signing,
		AliceLiveness:       defaults.Timeouts.AliceLiveness,
		ConfTarget:          defaults.ConfirmationTarget,
		ConfTargetFloor:     defaults.ConfirmationTargetFloor,
		ConfTargetReduction: defaults.ConfirmationTargetReductionRate,
		FallbackFeeRate: cfgutil.NewAmountFlag(
			defaults.FallbackFeeRate.PerKVByte(),
		),
		BanDuration: defaultBanDuration,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile
	if preCfg.ConfigFile == defaultConfigFile &&
		preCfg.DataDir != defaultDataDir {

		configFilePath = filepath.Join(
			preCfg.DataDir, defaultConfigFilename,
		)
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	if cfg.DataDir != defaultDataDir {
		if cfg.RPCKey == defaultRPCKeyFile {
			cfg.RPCKey = filepath.Join(cfg.DataDir, "rpc.key")
		}
		if cfg.RPCCert == defaultRPCCertFile {
			cfg.RPCCert = filepath.Join(cfg.DataDir, "rpc.cert")
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
		}
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		activeNet = &netparams.TestNet3Params
		numNets++
	}
	if cfg.SigNet {
		activeNet = &netparams.SigNetParams
		numNets++
	}
	if cfg.RegTest {
		activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if cfg.SimNet {
		activeNet = &netparams.SimNetParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: The testnet, signet, regtest, and simnet params " +
			"can't be used together -- choose one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	roundCfg := cfg.roundConfig()
	if err := roundCfg.Validate(); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.BanDuration <= 0 {
		err := fmt.Errorf("%s: the ban duration must be positive",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.MempoolPoll <= 0 || cfg.TickInterval <= 0 {
		err := fmt.Errorf("%s: poll and tick intervals must be "+
			"positive", funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.NodeConnect == "" {
		cfg.NodeConnect = net.JoinHostPort("localhost", activeNet.NodeRPCPort)
	}

	// Add default port to connect flag if missing.
	cfg.NodeConnect, err = cfgutil.NormalizeAddress(cfg.NodeConnect,
		activeNet.NodeRPCPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid nodeconnect network address: %v\n", err)
		return nil, nil, err
	}

	localhostListeners := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	nodeHost, _, err := net.SplitHostPort(cfg.NodeConnect)
	if err != nil {
		return nil, nil, err
	}
	if cfg.NodeNoTLS {
		if _, ok := localhostListeners[nodeHost]; !ok {
			str := "%s: the --nodenotls option may not be used " +
				"when connecting to a non localhost node: %s"
			err := fmt.Errorf(str, funcName, cfg.NodeConnect)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	} else if cfg.NodeCAFile == "" {
		// Default to the certificate of a node running next to us.
		cfg.NodeCAFile = filepath.Join(bitcoindHomeDir, "rpc.cert")
	}

	if len(cfg.RPCListeners) == 0 {
		addrs, err := net.LookupHost("localhost")
		if err != nil {
			return nil, nil, err
		}
		cfg.RPCListeners = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			addr = net.JoinHostPort(addr, activeNet.CoordinatorPort)
			cfg.RPCListeners = append(cfg.RPCListeners, addr)
		}
	}

	// Add default port to all rpc listener addresses if needed and remove
	// duplicate addresses.
	cfg.RPCListeners, err = cfgutil.NormalizeAddresses(
		cfg.RPCListeners, activeNet.CoordinatorPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in RPC listeners: %v\n", err)
		return nil, nil, err
	}

	// Only allow server TLS to be disabled if the RPC server is bound to
	// localhost addresses.
	if cfg.NoServerTLS {
		for _, addr := range cfg.RPCListeners {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				str := "%s: RPC listen interface '%s' is " +
					"invalid: %v"
				err := fmt.Errorf(str, funcName, addr, err)
				fmt.Fprintln(os.Stderr, err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
			if _, ok := localhostListeners[host]; !ok {
				str := "%s: the --noservertls option may not be used " +
					"when binding RPC to non localhost " +
					"addresses: %s"
				err := fmt.Errorf(str, funcName, addr)
				fmt.Fprintln(os.Stderr, err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
		}
	}

	// Expand environment variable and leading ~ for filepaths.
	cfg.NodeCAFile = cleanAndExpandPath(cfg.NodeCAFile)
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)
	cfg.RPCKey = cleanAndExpandPath(cfg.RPCKey)

	return &cfg, remainingArgs, nil
}
