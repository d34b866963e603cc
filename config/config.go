package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"swapcore/crypto"

	"github.com/BurntSushi/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Config is the protocol configuration: storage, bootstrap roles, assets
// and module policy.
type Config struct {
	DataDir              string       `toml:"DataDir"`
	Backend              string       `toml:"Backend"`
	OperatorKeystorePath string       `toml:"OperatorKeystorePath"`
	Admin                string       `toml:"Admin"`
	NativeAsset          string       `toml:"NativeAsset"`
	Assets               []Asset      `toml:"Assets"`
	Prices               []Price      `toml:"Prices"`
	Genesis              []Allocation `toml:"Genesis"`
	Oracle               Oracle       `toml:"Oracle"`
	HTLC                 HTLC         `toml:"HTLC"`
	Router               Router       `toml:"Router"`
}

// Load reads the configuration at path. A missing file is replaced by a
// default configuration whose administrator is a freshly generated operator
// key.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.Admin) == "" {
		if err := ensureOperator(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./swapcore-data"
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendLevelDB
	}
	if c.HTLC == (HTLC{}) {
		c.HTLC = DefaultHTLC()
	}
	if c.Router.ExecutionFeeBps == 0 && c.Router.DefaultConfidence == 0 {
		c.Router.ExecutionFeeBps = 10
	}
	if c.Router.DefaultConfidence == 0 {
		c.Router.DefaultConfidence = 8_500
	}
	if c.Oracle.MinConfidence == 0 {
		c.Oracle.MinConfidence = 7_000
	}
	if c.Oracle.Reporters == nil {
		c.Oracle.Reporters = []string{}
	}
}

// DefaultHTLC mirrors the ledger's built-in policy.
func DefaultHTLC() HTLC {
	return HTLC{FeeBps: 25, ToleranceBps: 500, MinTimelockSeconds: 3_600, MaxTimelockSeconds: 86_400}
}

// ensureOperator creates (or reuses) the operator keystore and installs its
// address as administrator.
func ensureOperator(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, ""); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, err := crypto.LoadFromKeystore(keystorePath, "")
		if err != nil {
			return fmt.Errorf("load operator keystore: %w", err)
		}
		key = loaded
	}
	cfg.OperatorKeystorePath = keystorePath
	cfg.Admin = key.PubKey().Address().String()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:     "./swapcore-data",
		Backend:     BackendLevelDB,
		NativeAsset: "NATIVE",
		Assets: []Asset{
			{Symbol: "NATIVE", Decimals: 18},
		},
		Prices:  []Price{},
		Genesis: []Allocation{},
	}
	cfg.applyDefaults()
	if err := ensureOperator(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
