// Command tempo opens this node's keys and stores, registers metrics,
// and constructs the DKG Manager, following the teacher's urfave/cli/v2
// flag/command layout (cmd/drand/main.go). It does not construct a
// Consensus Application or Execution Driver, and no ValidatorConfig
// reader is wired into the Manager.
package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/tempolabs/tempo/ceremony"
	"github.com/tempolabs/tempo/common/log"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/dkg"
	"github.com/tempolabs/tempo/epoch"
	"github.com/tempolabs/tempo/metrics"
	"github.com/tempolabs/tempo/validator"
)

var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

var dataDirFlag = &cli.StringFlag{
	Name:  "data-dir",
	Value: "./tempo-data",
	Usage: "Directory holding the ceremony store, epoch state store, and keys.",
}

var epochLengthFlag = &cli.Uint64Flag{
	Name:  "epoch-length",
	Value: epoch.DefaultConfig().EpochLength,
	Usage: "Number of blocks per epoch.",
}

var intermediateOffsetFlag = &cli.Uint64Flag{
	Name:  "intermediate-offset",
	Value: epoch.DefaultConfig().IntermediateOffset,
	Usage: "Block offset within an epoch at which dealers construct their IntermediateOutcome; later blocks of the epoch carry it.",
}

var metricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Usage: "Address (host:port) to serve /metrics on. Disabled if empty.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level.",
}

func main() {
	app := &cli.App{
		Name:    "tempo",
		Usage:   "payments-focused execution layer node with epoch-rotated threshold consensus keys",
		Version: version,
		Flags:   []cli.Flag{dataDirFlag, epochLengthFlag, intermediateOffsetFlag, metricsAddrFlag, verboseFlag},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start the tempo node daemon.",
				Action: startCmd,
			},
			{
				Name:   "generate-keypair",
				Usage:  "Generate this node's Ed25519 identity keypair and X25519 encryption keypair.",
				Action: keygenCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tempo: %v\n", err)
		os.Exit(1)
	}
}

func logLevel(c *cli.Context) int {
	if c.Bool(verboseFlag.Name) {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func startCmd(c *cli.Context) error {
	logger := log.New(os.Stdout, logLevel(c), false)
	logger.Infow("tempo: starting", "version", version, "commit", gitCommit, "built", buildDate)

	dataDir := c.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("tempo: create data dir: %w", err)
	}

	schedule := epoch.Config{
		EpochLength:        c.Uint64(epochLengthFlag.Name),
		IntermediateOffset: c.Uint64(intermediateOffsetFlag.Name),
	}.MustValidate()

	scheme := crypto.NewDefaultScheme()

	self, selfEnc, err := loadOrGenerateKeys(dataDir)
	if err != nil {
		return err
	}

	ceremonies, err := ceremony.OpenStore(filepath.Join(dataDir, "ceremony.db"), scheme)
	if err != nil {
		return fmt.Errorf("tempo: open ceremony store: %w", err)
	}
	defer ceremonies.Close()

	states, err := dkg.OpenEpochStateStore(filepath.Join(dataDir, "epoch_state.db"), scheme)
	if err != nil {
		return fmt.Errorf("tempo: open epoch state store: %w", err)
	}
	defer states.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	if addr := c.String(metricsAddrFlag.Name); addr != "" {
		go serveMetrics(addr, logger)
	}

	peers := validator.NewStaticPeerManager()

	manager, err := dkg.NewManager(dkg.Config{
		Schedule:       schedule,
		Scheme:         scheme,
		Peers:          peers,
		Epochs:         dkg.NopEpochManager{},
		Ceremonies:     ceremonies,
		States:         states,
		MuxFor:         func(uint64) ceremony.Mux { return ceremony.NewChannelMux(logger) },
		Self:           self,
		SelfEncryption: selfEnc,
		Log:            logger,
	})
	if err != nil {
		return fmt.Errorf("tempo: construct dkg manager: %w", err)
	}
	_ = manager

	logger.Infow("tempo: node initialized; wire a ValidatorConfig reader, " +
		"Engine-API client, and consensus driver before feeding it blocks")
	<-c.Done()
	return nil
}

func keygenCmd(c *cli.Context) error {
	dataDir := c.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("tempo: create data dir: %w", err)
	}
	_, _, err := loadOrGenerateKeys(dataDir)
	if err != nil {
		return err
	}
	fmt.Printf("tempo: generated keypair under %s\n", dataDir)
	return nil
}

func serveMetrics(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infow("tempo: serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorw("tempo: metrics server exited", "err", err)
	}
}

// keysTOML is the on-disk shape of this node's identity and encryption
// keypairs, base64-encoded the same way every other TOML-mirrored
// store in this codebase encodes byte slices.
type keysTOML struct {
	IdentityPublic   string
	IdentityPrivate  string
	EncryptionPublic string
	EncryptionPrivate string
}

func keysPath(dataDir string) string { return filepath.Join(dataDir, "keys.toml") }

// loadOrGenerateKeys loads this node's keypairs from dataDir, or
// generates and persists a fresh set if none exist yet.
func loadOrGenerateKeys(dataDir string) (*crypto.KeyPair, *crypto.EncryptionKeyPair, error) {
	path := keysPath(dataDir)
	if _, err := os.Stat(path); err == nil {
		var m keysTOML
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return nil, nil, fmt.Errorf("tempo: decode keys: %w", err)
		}
		pub, err := base64.StdEncoding.DecodeString(m.IdentityPublic)
		if err != nil {
			return nil, nil, fmt.Errorf("tempo: decode identity public key: %w", err)
		}
		priv, err := base64.StdEncoding.DecodeString(m.IdentityPrivate)
		if err != nil {
			return nil, nil, fmt.Errorf("tempo: decode identity private key: %w", err)
		}
		encPub, err := base64.StdEncoding.DecodeString(m.EncryptionPublic)
		if err != nil {
			return nil, nil, fmt.Errorf("tempo: decode encryption public key: %w", err)
		}
		encPriv, err := base64.StdEncoding.DecodeString(m.EncryptionPrivate)
		if err != nil {
			return nil, nil, fmt.Errorf("tempo: decode encryption private key: %w", err)
		}
		self := &crypto.KeyPair{Public: pub, Private: priv}
		var selfEnc crypto.EncryptionKeyPair
		copy(selfEnc.Public[:], encPub)
		copy(selfEnc.Private[:], encPriv)
		return self, &selfEnc, nil
	}

	self, err := crypto.NewKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("tempo: generate identity keypair: %w", err)
	}
	selfEnc, err := crypto.NewEncryptionKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("tempo: generate encryption keypair: %w", err)
	}

	m := keysTOML{
		IdentityPublic:    base64.StdEncoding.EncodeToString(self.Public),
		IdentityPrivate:   base64.StdEncoding.EncodeToString(self.Private),
		EncryptionPublic:  base64.StdEncoding.EncodeToString(selfEnc.Public[:]),
		EncryptionPrivate: base64.StdEncoding.EncodeToString(selfEnc.Private[:]),
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("tempo: create keys file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return nil, nil, fmt.Errorf("tempo: encode keys: %w", err)
	}
	return self, selfEnc, nil
}
