package params

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Pair struct {
	Symbol     string `env:"PAIR_SYMBOL" envDefault:"BASE-QUOTE"`
	BaseAsset  string `env:"BASE_ASSET" envDefault:"BASE"`
	QuoteAsset string `env:"QUOTE_ASSET" envDefault:"QUOTE"`
	// Decimals is the fixed-point factor applied to prices.
	Decimals uint64 `env:"PRICE_DECIMALS" envDefault:"100000000"`
}

type Engine struct {
	InitialBase  uint64 `env:"INITIAL_BASE" envDefault:"20000000"`
	InitialQuote uint64 `env:"INITIAL_QUOTE" envDefault:"20000000"`
	// Operator is the trader recorded on commands that name none.
	Operator string `env:"OPERATOR_ADDRESS" envDefault:"0x0000000000000000000000000000000000000001"`
	// Queued commands are applied in batches of up to BatchSize every BatchIntervalMS.
	BatchIntervalMS int `env:"BATCH_INTERVAL_MS" envDefault:"100"`
	BatchSize       int `env:"BATCH_SIZE" envDefault:"500"`
}

type API struct {
	Addr        string   `env:"API_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173"`
}

type Storage struct {
	// Path of the pebble directory; empty keeps everything in memory.
	Path        string `env:"STORE_PATH" envDefault:"data/limitbook"`
	JournalFile string `env:"JOURNAL_FILE" envDefault:"data/journal.log"`
	LogFile     string `env:"LOG_FILE"`
	// Zero disables periodic checkpoints; one is still written on shutdown.
	CheckpointInterval time.Duration `env:"CHECKPOINT_INTERVAL" envDefault:"30s"`
}

type Kafka struct {
	// No brokers disables publishing.
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"limitbook.trades"`
}

// Feeder drives the built-in load generator (devnet only).
type Feeder struct {
	Enabled    bool `env:"ENABLE_TXGEN" envDefault:"false"`
	IntervalMS int  `env:"TXGEN_INTERVAL_MS" envDefault:"500"`
	Batch      int  `env:"TXGEN_BATCH" envDefault:"5"`
}

type Config struct {
	Pair    Pair
	Engine  Engine
	API     API
	Storage Storage
	Kafka   Kafka
	Feeder  Feeder
	Verbose bool `env:"VERBOSE" envDefault:"false"`
}

// Default returns the built-in defaults, ignoring the process environment.
func Default() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	return env.Must(cfg, err)
}

// LoadFromEnv loads configuration from a .env file (if it exists) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Pair.Decimals == 0 {
		return errors.New("PRICE_DECIMALS must be positive")
	}
	if !common.IsHexAddress(c.Engine.Operator) {
		return errors.Errorf("OPERATOR_ADDRESS %q is not a hex address", c.Engine.Operator)
	}
	if c.Engine.BatchIntervalMS <= 0 {
		return errors.New("BATCH_INTERVAL_MS must be positive")
	}
	if c.Storage.CheckpointInterval < 0 {
		return errors.New("CHECKPOINT_INTERVAL must not be negative")
	}
	if c.Feeder.Enabled && (c.Feeder.IntervalMS <= 0 || c.Feeder.Batch <= 0) {
		return errors.New("TXGEN_INTERVAL_MS and TXGEN_BATCH must be positive")
	}
	return nil
}

func (c Config) OperatorAddress() common.Address {
	return common.HexToAddress(c.Engine.Operator)
}

func (c Config) BatchInterval() time.Duration {
	return time.Duration(c.Engine.BatchIntervalMS) * time.Millisecond
}

func (c Config) FeederInterval() time.Duration {
	return time.Duration(c.Feeder.IntervalMS) * time.Millisecond
}
