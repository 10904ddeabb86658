package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	// JWTSecret verifies session tokens minted by the identity provider.
	JWTSecret     string
	JWTIssuer     string
	WebhookSecret string
}

type DocstoreConfig struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

type RoomConfig struct {
	MinParticipants        int
	MaxParticipants        int
	DefaultMaxParticipants int
	MaxNameLength          int
	MaxSubjectLength       int
	MaxDescriptionLength   int
	DefaultFocusMinutes    int
	DefaultShortBreak      int
	DefaultLongBreak       int
	DefaultTotalSessions   int
	ListTTL                time.Duration
	ListLimit              int
}

type ClassroomConfig struct {
	MinStudents          int
	MaxStudents          int
	DefaultMaxStudents   int
	MaxNameLength        int
	MaxSubjectLength     int
	MaxDescriptionLength int
	ListTTL              time.Duration
	ListLimit            int
}

type SessionConfig struct {
	MaxParticipants int
	MaxTitleLength  int
	DefaultTitle    string
	MaxDuration     time.Duration
}

type JobsConfig struct {
	Enabled             bool
	SessionSweep        string
	WeeklyProgressReset string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Docstore         DocstoreConfig
	Rooms            RoomConfig
	Classrooms       ClassroomConfig
	Sessions         SessionConfig
	Jobs             JobsConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("TIMEOUT")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtissuer", "timeout-identity")

	v.SetDefault("docstore.maxattempts", 5)
	v.SetDefault("docstore.retrybasedelay", "10ms")

	v.SetDefault("rooms.minparticipants", 2)
	v.SetDefault("rooms.maxparticipants", 20)
	v.SetDefault("rooms.defaultmaxparticipants", 8)
	v.SetDefault("rooms.maxnamelength", 100)
	v.SetDefault("rooms.maxsubjectlength", 50)
	v.SetDefault("rooms.maxdescriptionlength", 500)
	v.SetDefault("rooms.defaultfocusminutes", 25)
	v.SetDefault("rooms.defaultshortbreak", 5)
	v.SetDefault("rooms.defaultlongbreak", 15)
	v.SetDefault("rooms.defaulttotalsessions", 4)
	v.SetDefault("rooms.listttl", "10s")
	v.SetDefault("rooms.listlimit", 50)

	v.SetDefault("classrooms.minstudents", 1)
	v.SetDefault("classrooms.maxstudents", 100)
	v.SetDefault("classrooms.defaultmaxstudents", 30)
	v.SetDefault("classrooms.maxnamelength", 100)
	v.SetDefault("classrooms.maxsubjectlength", 50)
	v.SetDefault("classrooms.maxdescriptionlength", 500)
	v.SetDefault("classrooms.listttl", "10s")
	v.SetDefault("classrooms.listlimit", 50)

	v.SetDefault("sessions.maxparticipants", 50)
	v.SetDefault("sessions.maxtitlelength", 200)
	v.SetDefault("sessions.defaulttitle", "Live Class Session")
	v.SetDefault("sessions.maxduration", "4h")

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.sessionsweep", "0 */5 * * * *")
	v.SetDefault("jobs.weeklyprogressreset", "0 0 0 * * MON")
}
