package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Mysql struct {
		// empty runs on the in-memory store
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		// empty runs presence durable-only
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
		DB       int      `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret    string        `mapstructure:"secret"`
		AccessTTL time.Duration `mapstructure:"access_ttl"`
	} `mapstructure:"auth"`
	Cors struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	Collab struct {
		OpsLogLimit     int `mapstructure:"ops_log_limit"`
		CheckpointEvery int `mapstructure:"checkpoint_every"`
		SendQueue       int `mapstructure:"send_queue"`
	} `mapstructure:"collab"`
	Lock struct {
		Timeout       time.Duration `mapstructure:"timeout"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"lock"`
	Presence struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"presence"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8082)
	v.SetDefault("log.level", "info")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "doc-ops")
	v.SetDefault("auth.secret", "dev-secret")
	v.SetDefault("auth.access_ttl", 30*time.Minute)
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("collab.ops_log_limit", 500)
	v.SetDefault("collab.checkpoint_every", 50)
	v.SetDefault("collab.send_queue", 64)
	v.SetDefault("lock.timeout", 30*time.Minute)
	v.SetDefault("lock.sweep_interval", time.Minute)
	v.SetDefault("presence.ttl", 20*time.Second)
}

// Load reads collabConfig.yaml from the first of paths that has one (by
// default ./backend/config, ./config and .). A missing file is not an error.
// Every key can be overridden by COLLAB_<KEY>, e.g. COLLAB_MYSQL_DSN.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{"./backend/config", "./config", "."}
	}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
