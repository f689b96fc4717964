package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Directory DirectorySettings `mapstructure:"directory"`
	Telegram  TelegramSettings  `mapstructure:"telegram"`
	Session   SessionSettings   `mapstructure:"session"`
	Email     EmailSettings     `mapstructure:"email"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Sync      SyncSettings      `mapstructure:"sync"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MessagesPath optionally points at a JSON file overriding the built-in
	// reply catalog.
	MessagesPath string `mapstructure:"messages_path"`
}

// DirectorySettings configures the LDAP connection and password policy.
type DirectorySettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	UseSSL           bool          `mapstructure:"use_ssl"`
	BindUser         string        `mapstructure:"bind_user"`
	BindPassword     string        `mapstructure:"bind_password"`
	SearchBase       string        `mapstructure:"search_base"`
	GroupDN          string        `mapstructure:"group_dn"`
	PolicyDays       int           `mapstructure:"policy_days"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type TelegramSettings struct {
	Token       string `mapstructure:"token"`
	BotLink     string `mapstructure:"bot_link"`
	PollTimeout int    `mapstructure:"poll_timeout"`
}

// SessionSettings controls the sliding session window.
type SessionSettings struct {
	Duration time.Duration `mapstructure:"duration"`
	Backend  string        `mapstructure:"backend"`
}

// EmailSettings configures the SMTP notification channel.
type EmailSettings struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Sender      string   `mapstructure:"sender"`
	AdminEmails []string `mapstructure:"admin_emails"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis session store.
type RedisSettings struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	SessionPrefix string `mapstructure:"session_prefix"`
}

// KafkaSettings configures the audit event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// SyncSettings bound the bulk directory fetch.
type SyncSettings struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TBOT")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.messages_path",
		"directory.host",
		"directory.port",
		"directory.use_ssl",
		"directory.bind_user",
		"directory.bind_password",
		"directory.search_base",
		"directory.group_dn",
		"directory.policy_days",
		"directory.connect_timeout",
		"directory.operation_timeout",
		"telegram.token",
		"telegram.bot_link",
		"telegram.poll_timeout",
		"session.duration",
		"session.backend",
		"email.host",
		"email.port",
		"email.username",
		"email.password",
		"email.sender",
		"email.admin_emails",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"sync.max_retries",
		"sync.retry_delay",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tbot")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("directory.port", 636)
	v.SetDefault("directory.use_ssl", true)
	v.SetDefault("directory.policy_days", 180)
	v.SetDefault("directory.connect_timeout", "10s")
	v.SetDefault("directory.operation_timeout", "30s")

	v.SetDefault("telegram.poll_timeout", 30)

	v.SetDefault("session.duration", "30m")
	v.SetDefault("session.backend", "redis")

	v.SetDefault("email.port", 587)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "tbot")
	v.SetDefault("postgres.password", "tbot_password")
	v.SetDefault("postgres.database", "tbot")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_prefix", "tbot:session")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "tbot")

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay", "5s")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "TBOT_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
