package cfg

import (
	"io/fs"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "RELCORE"

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

type Config struct {
	Environment Environment `default:"dev"`

	// workload
	Workers             int     `default:"8"`
	Transactions        int     `default:"100"`
	Tables              int     `default:"4"`
	PagesPerTable       int     `default:"16" split_words:"true"`
	OpsPerTxn           int     `default:"8" split_words:"true"`
	WriteRatio          float64 `default:"0.3" split_words:"true"`
	EscalationThreshold float64 `default:"0.5" split_words:"true"`
	Seed                int64   `default:"0"`

	// join
	DataDir       string `default:"./data" split_words:"true"`
	ScanCacheSize int    `default:"8" split_words:"true"`
}

// Load reads path (or ./.env when path is empty) into the process
// environment and decodes RELCORE_* variables. A missing ./.env is fine, a
// missing explicit path is not.
func Load(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", path)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.Wrap(err, "envconfig")
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "config validation")
	}

	return c, nil
}

func (c Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}

	switch {
	case c.Workers < 1:
		return errors.New("workers must be positive")
	case c.Transactions < 0:
		return errors.New("transactions must not be negative")
	case c.Tables < 1:
		return errors.New("tables must be positive")
	case c.PagesPerTable < 1:
		return errors.New("pages per table must be positive")
	case c.OpsPerTxn < 1:
		return errors.New("ops per transaction must be positive")
	case c.WriteRatio < 0 || c.WriteRatio > 1:
		return errors.New("write ratio must be within [0, 1]")
	case c.EscalationThreshold <= 0 || c.EscalationThreshold > 1:
		return errors.New("escalation threshold must be within (0, 1]")
	case c.DataDir == "":
		return errors.New("data dir must be set")
	case c.ScanCacheSize < 0:
		return errors.New("scan cache size must not be negative")
	}

	return nil
}
