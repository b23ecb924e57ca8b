package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting of the relay process.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	DBHost string `envconfig:"DB_HOST" default:"localhost"`
	DBUser string `envconfig:"DB_USER" default:"postgres"`
	DBPass string `envconfig:"DB_PASS" default:"postgres"`
	DBName string `envconfig:"DB_NAME" default:"chatapp"`
	DBPort string `envconfig:"DB_PORT" default:"5432"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"168h"`

	HistorySize   int           `envconfig:"HISTORY_SIZE" default:"200"`
	MaxBodyLength int           `envconfig:"MAX_BODY_LENGTH" default:"4000"`
	SendQueueSize int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	WriteWait     time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	PongWait      time.Duration `envconfig:"PONG_WAIT" default:"60s"`
	AuthTimeout   time.Duration `envconfig:"AUTH_TIMEOUT" default:"10s"`
	MaxFrameBytes int64         `envconfig:"MAX_FRAME_BYTES" default:"16384"`
	DefaultRoom   string        `envconfig:"DEFAULT_ROOM" default:"general"`
	SingleRoom    bool          `envconfig:"SINGLE_ROOM" default:"false"`

	MediaBaseURL string `envconfig:"MEDIA_BASE_URL" default:"/media"`

	ArchiveEnabled   bool `envconfig:"ARCHIVE_ENABLED" default:"true"`
	ArchiveQueueSize int  `envconfig:"ARCHIVE_QUEUE_SIZE" default:"1024"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read .env: %w", err)
		}
		log.Println("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.JWTSecret == "":
		return errors.New("JWT_SECRET must be set")
	case c.HistorySize <= 0:
		return fmt.Errorf("HISTORY_SIZE must be positive, got %d", c.HistorySize)
	case c.MaxBodyLength <= 0:
		return fmt.Errorf("MAX_BODY_LENGTH must be positive, got %d", c.MaxBodyLength)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	case c.ArchiveQueueSize <= 0:
		return fmt.Errorf("ARCHIVE_QUEUE_SIZE must be positive, got %d", c.ArchiveQueueSize)
	case c.WriteWait <= 0:
		return fmt.Errorf("WRITE_WAIT must be positive, got %s", c.WriteWait)
	case c.PongWait <= c.WriteWait:
		return fmt.Errorf("PONG_WAIT (%s) must be longer than WRITE_WAIT (%s)", c.PongWait, c.WriteWait)
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort)
}
