package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
)

const (
	defaultDataDirname     = "data"
	defaultChanDbFilename  = "channel.db"
	defaultRouteDbFilename = "route.db"
	defaultLogFilename     = "lightningd.log"
	defaultLogLevel        = "info"
	defaultMaxLogFileSize  = 10
	defaultMaxLogFiles     = 3

	defaultPeerPort  = "8333"
	defaultLocalPort = "8332"
)

var defaultLightningDir = btcutil.AppDataDir("lightningd", false)

// config mirrors the cfg global of the teacher's daemon/lnd.go: one struct,
// parsed once by go-flags from the command line (no config file is read),
// then used read-only for the rest of the process lifetime.
type config struct {
	LightningDir string `long:"lightningdir" description:"The directory to store data"`

	PeerListeners  []string `long:"peerlisten" description:"Add an interface/port to listen for peer-wire connections (default: 0.0.0.0:8333)"`
	LocalListeners []string `long:"locallisten" description:"Add an interface/port to listen for local control RPC connections (default: localhost:8332)"`

	RPCUser     string `long:"rpcuser" description:"Username for local control RPC basic auth"`
	RPCPassword string `long:"rpcpass" description:"Password for local control RPC basic auth"`

	RegTest bool `long:"regtest" description:"Use the regression test network"`

	LocalFee int64 `long:"localfee" description:"Forwarding fee (in satoshis) this node charges when acting as an intermediate hop"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum log file size in MB"`
	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum number of rotated log files to keep"`

	netParams *chaincfg.Params
	dataDir   string
	logDir    string
}

// defaultConfig returns a config populated with every default, the same
// role loadConfig's pre-flags.Parse struct literal plays in the teacher.
func defaultConfig() config {
	return config{
		LightningDir:   defaultLightningDir,
		PeerListeners:  []string{"0.0.0.0:" + defaultPeerPort},
		LocalListeners: []string{"localhost:" + defaultLocalPort},
		DebugLevel:     defaultLogLevel,
		MaxLogFileSize: defaultMaxLogFileSize,
		MaxLogFiles:    defaultMaxLogFiles,
	}
}

// loadConfig parses args over a defaultConfig, resolves the network params
// and derived directories, and starts the log rotator, mirroring
// daemon/lnd.go's loadConfig.
func loadConfig(args []string) (*config, error) {
	preCfg := defaultConfig()
	parser := flags.NewParser(&preCfg, flags.Default)
	if _, err := parser.ParseArgs(args[1:]); err != nil {
		return nil, err
	}
	cfg := preCfg

	cfg.netParams = &chaincfg.MainNetParams
	if cfg.RegTest {
		cfg.netParams = &chaincfg.RegressionNetParams
	}

	cfg.dataDir = filepath.Join(cfg.LightningDir, defaultDataDirname)
	cfg.logDir = filepath.Join(cfg.LightningDir, "logs")

	if err := os.MkdirAll(cfg.dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	logFile := filepath.Join(cfg.logDir, defaultLogFilename)
	if err := initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
		return nil, err
	}
	setLogLevels(cfg.DebugLevel)

	if cfg.RPCUser == "" || cfg.RPCPassword == "" {
		return nil, fmt.Errorf("rpcuser and rpcpass are required for the local control RPC")
	}

	return &cfg, nil
}

func (cfg *config) chanDBPath() string {
	return filepath.Join(cfg.dataDir, defaultChanDbFilename)
}

func (cfg *config) routeDBPath() string {
	return filepath.Join(cfg.dataDir, defaultRouteDbFilename)
}
