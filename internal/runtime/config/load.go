package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading the environment, e.g.
// APILOG_KAFKA_BROKERS=a:9092,b:9092.
const EnvPrefix = "APILOG"

// Used when neither the current nor the kafka_ prefixed key is set.
const (
	DefaultConsumerGroup = "log-consumer-group"
	DefaultClientID      = "apilog"
)

var defaults = map[string]any{
	"pubsub_system":              "kafka",
	"consumer_group":             "",
	"client_id":                  "",
	"kafka_brokers":              []string{"localhost:9092"},
	"kafka_client_id":            "",
	"kafka_consumer_group":       "",
	"kafka_initial_offset":       "earliest",
	"rabbitmq_url":               "",
	"nats_url":                   "",
	"http_server_address":        "",
	"http_publisher_url":         "",
	"aws_region":                 "",
	"aws_account_id":             "",
	"aws_access_key_id":          "",
	"aws_secret_access_key":      "",
	"aws_endpoint":               "",
	"topics":                     []string{"api_errors", "api_requests", "api_responses"},
	"poll_timeout":               time.Second,
	"store_driver":               "mysql",
	"store_dsn":                  "root:password@tcp(localhost:3307)/log_monitoring?parseTime=true",
	"store_table":                "logs",
	"store_auto_create_schema":   false,
	"store_breaker_enabled":      false,
	"store_breaker_max_failures": 5,
	"store_breaker_open_timeout": 30 * time.Second,
	"metrics_address":            ":8000",
	"metrics_path":               "/metrics",
	"metrics_runtime_collectors": true,
	"log_level":                  "info",
	"log_format":                 "json",
}

// Default returns the built-in configuration without consulting files,
// the environment or flags.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("apilog: built-in defaults do not decode: %v", err))
	}
	return cfg
}

// RegisterFlags adds the command line overrides understood by Load. Flag
// names are the config keys with dashes instead of underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("pubsub-system", "", "bus transport (kafka, channel, nats, rabbitmq, aws, http)")
	fs.StringSlice("kafka-brokers", nil, "comma separated kafka brokers")
	fs.String("consumer-group", "", "consumer group, queue group or per-group queue suffix")
	fs.String("client-id", "", "client id reported to kafka and nats")
	fs.String("kafka-consumer-group", "", "alias of --consumer-group")
	_ = fs.MarkDeprecated("kafka-consumer-group", "use --consumer-group")
	fs.StringSlice("topics", nil, "comma separated topics to consume")
	fs.Duration("poll-timeout", 0, "how long one poll waits for a message")
	fs.String("store-driver", "", "log store driver (postgres, pgx, mysql, sqlite3, clickhouse, redis, none)")
	fs.String("store-dsn", "", "log store connection string")
	fs.String("store-table", "", "log table or stream name")
	fs.Bool("store-auto-create-schema", false, "create the log table if it does not exist")
	fs.String("metrics-address", "", "listen address of the metrics exporter")
	fs.String("log-level", "", "trace, debug, info, warn or error")
	fs.String("log-format", "", "json or text")
}

// Load resolves the configuration from defaults, then the optional file at
// path (YAML, JSON or TOML by extension), then APILOG_* environment
// variables, then flags that were explicitly set. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; !known || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Topics = trimAll(cfg.Topics)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	if cfg.GetConsumerGroup() == "" {
		cfg.ConsumerGroup = DefaultConsumerGroup
	}
	if cfg.GetClientID() == "" {
		cfg.ClientID = DefaultClientID
	}
	cfg.PubSubSystem = strings.ToLower(strings.TrimSpace(cfg.PubSubSystem))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

func trimAll(values []string) []string {
	out := values[:0:0]
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
