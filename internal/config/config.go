// Package config loads service settings from .env, the environment and an
// optional YAML campaign file. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Log       LogConfig       `yaml:"log"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Generator GeneratorConfig `yaml:"generator"`
	Mail      MailConfig      `yaml:"mail"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN prefers an explicit URL and otherwise assembles one from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, ssl)
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type SenderConfig struct {
	Name    string `yaml:"name"`
	Company string `yaml:"company"`
	Role    string `yaml:"role"`
	Email   string `yaml:"email"`
}

// CampaignConfig is the drip schedule and tick behaviour.
type CampaignConfig struct {
	// DripOffsets[i] is the minimum delay before stage i+1, measured from
	// created_at for stage 1 and from the previous stage's send otherwise.
	DripOffsets     []time.Duration `yaml:"drip_offsets"`
	DripInterval    time.Duration   `yaml:"drip_interval"`
	ReplyInterval   time.Duration   `yaml:"reply_interval"`
	GenerateTimeout time.Duration   `yaml:"generate_timeout"`
	SendTimeout     time.Duration   `yaml:"send_timeout"`
	ClassifyTimeout time.Duration   `yaml:"classify_timeout"`
	LockTTL         time.Duration   `yaml:"lock_ttl"`
	LockKey         string          `yaml:"lock_key"`
	SendOnCreate    bool            `yaml:"send_on_create"`
	AcknowledgeStop bool            `yaml:"acknowledge_stop"`
	CalendarLink    string          `yaml:"calendar_link"`
	StopPhrases     []string        `yaml:"stop_phrases"`
	Sender          SenderConfig    `yaml:"sender"`
}

type GeneratorConfig struct {
	// Provider is one of gemini, bedrock or template.
	Provider     string `yaml:"provider"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	BedrockModel string `yaml:"bedrock_model"`
	AWSRegion    string `yaml:"aws_region"`
}

type MailConfig struct {
	// Provider is smtp or ses. Replies are always read over IMAP.
	Provider        string `yaml:"provider"`
	SMTPHost        string `yaml:"smtp_host"`
	SMTPPort        int    `yaml:"smtp_port"`
	IMAPHost        string `yaml:"imap_host"`
	IMAPPort        int    `yaml:"imap_port"`
	Mailbox         string `yaml:"mailbox"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	FromAddress     string `yaml:"from_address"`
	AWSRegion       string `yaml:"aws_region"`
	AWSAccessKey    string `yaml:"aws_access_key"`
	AWSSecretKey    string `yaml:"aws_secret_key"`
	MaxFetchPerTick int    `yaml:"max_fetch_per_tick"`
}

var DefaultStopPhrases = []string{
	"unsubscribe",
	"remove me",
	"take me off your list",
	"stop emailing",
	"don't email me",
	"do not email me",
	"do not contact",
	"not interested, stop",
}

// Default mirrors the production cadence: stage 1 immediately, stage 2 three
// days later, stage 3 five days after that; drips every 30m, replies every 10m.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Database: DatabaseConfig{SSLMode: "disable"},
		AMQP:     AMQPConfig{Queue: "drip_triggers"},
		Log:      LogConfig{Level: "info"},
		Campaign: CampaignConfig{
			DripOffsets:     []time.Duration{0, 72 * time.Hour, 120 * time.Hour},
			DripInterval:    30 * time.Minute,
			ReplyInterval:   10 * time.Minute,
			GenerateTimeout: 60 * time.Second,
			SendTimeout:     30 * time.Second,
			ClassifyTimeout: 30 * time.Second,
			LockTTL:         10 * time.Minute,
			LockKey:         "dripmail:tick",
			SendOnCreate:    true,
			AcknowledgeStop: true,
			CalendarLink:    "https://calendly.com/your-calendar-link",
			StopPhrases:     append([]string(nil), DefaultStopPhrases...),
			Sender: SenderConfig{
				Name:    "Piyush Mishra",
				Company: "XYZ Company",
				Role:    "Business Development Partner for Pulp Strategy",
			},
		},
		Generator: GeneratorConfig{
			Provider:     "template",
			GeminiModel:  "gemini-2.5-flash",
			BedrockModel: "anthropic.claude-3-haiku-20240307-v1:0",
			AWSRegion:    "us-east-1",
		},
		Mail: MailConfig{
			Provider:        "smtp",
			SMTPPort:        587,
			IMAPPort:        993,
			Mailbox:         "INBOX",
			AWSRegion:       "us-east-1",
			MaxFetchPerTick: 200,
		},
	}
}

// Load reads .env (if present), then the YAML file named by CAMPAIGN_CONFIG,
// then environment overrides, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CAMPAIGN_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.AMQP.URL = getEnv("AMQP_URL", c.AMQP.URL)
	c.AMQP.Queue = getEnv("AMQP_QUEUE", c.AMQP.Queue)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("LOG_DEVELOPMENT", c.Log.Development)

	camp := &c.Campaign
	if v := os.Getenv("DRIP_OFFSETS"); v != "" {
		offsets, err := parseDurations(v)
		if err != nil {
			return fmt.Errorf("DRIP_OFFSETS: %w", err)
		}
		camp.DripOffsets = offsets
	}
	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DRIP_INTERVAL", &camp.DripInterval},
		{"REPLY_INTERVAL", &camp.ReplyInterval},
		{"GENERATE_TIMEOUT", &camp.GenerateTimeout},
		{"SEND_TIMEOUT", &camp.SendTimeout},
		{"CLASSIFY_TIMEOUT", &camp.ClassifyTimeout},
		{"LOCK_TTL", &camp.LockTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	camp.LockKey = getEnv("LOCK_KEY", camp.LockKey)
	camp.SendOnCreate = getEnvBool("SEND_ON_CREATE", camp.SendOnCreate)
	camp.AcknowledgeStop = getEnvBool("ACKNOWLEDGE_STOP", camp.AcknowledgeStop)
	camp.CalendarLink = getEnv("CALENDAR_LINK", camp.CalendarLink)
	if v := os.Getenv("STOP_PHRASES"); v != "" {
		camp.StopPhrases = splitList(v)
	}
	camp.Sender.Name = getEnv("SENDER_NAME", camp.Sender.Name)
	camp.Sender.Company = getEnv("SENDER_COMPANY", camp.Sender.Company)
	camp.Sender.Role = getEnv("SENDER_ROLE", camp.Sender.Role)
	camp.Sender.Email = getEnv("EMAIL_ADDRESS", camp.Sender.Email)

	g := &c.Generator
	g.Provider = getEnv("GENERATOR_PROVIDER", g.Provider)
	g.GeminiAPIKey = getEnv("GEMINI_API_KEY", g.GeminiAPIKey)
	g.GeminiModel = getEnv("GEMINI_MODEL", g.GeminiModel)
	g.BedrockModel = getEnv("BEDROCK_MODEL_ID", g.BedrockModel)
	g.AWSRegion = getEnv("AWS_REGION", g.AWSRegion)

	m := &c.Mail
	m.Provider = getEnv("MAIL_PROVIDER", m.Provider)
	m.SMTPHost = getEnv("SMTP_HOST", m.SMTPHost)
	m.IMAPHost = getEnv("IMAP_HOST", m.IMAPHost)
	m.Mailbox = getEnv("IMAP_MAILBOX", m.Mailbox)
	m.Username = getEnv("EMAIL_ADDRESS", m.Username)
	m.Password = getEnv("EMAIL_PASSWORD", m.Password)
	m.FromAddress = getEnv("EMAIL_ADDRESS", m.FromAddress)
	m.AWSRegion = getEnv("AWS_REGION", m.AWSRegion)
	m.AWSAccessKey = getEnv("AWS_ACCESS_KEY_ID", m.AWSAccessKey)
	m.AWSSecretKey = getEnv("AWS_SECRET_ACCESS_KEY", m.AWSSecretKey)
	if m.SMTPPort, err = getEnvInt("SMTP_PORT", m.SMTPPort); err != nil {
		return err
	}
	if m.IMAPPort, err = getEnvInt("IMAP_PORT", m.IMAPPort); err != nil {
		return err
	}
	if m.MaxFetchPerTick, err = getEnvInt("MAX_FETCH_PER_TICK", m.MaxFetchPerTick); err != nil {
		return err
	}
	return nil
}

// Validate rejects schedules the scheduler cannot run.
func (c *Config) Validate() error {
	camp := c.Campaign
	if len(camp.DripOffsets) != 3 {
		return fmt.Errorf("campaign.drip_offsets: need exactly 3 offsets, got %d", len(camp.DripOffsets))
	}
	for i, o := range camp.DripOffsets {
		if o < 0 {
			return fmt.Errorf("campaign.drip_offsets[%d]: negative offset %s", i, o)
		}
	}
	if camp.DripInterval <= 0 || camp.ReplyInterval <= 0 {
		return fmt.Errorf("campaign: tick intervals must be positive")
	}
	if camp.GenerateTimeout <= 0 || camp.SendTimeout <= 0 || camp.ClassifyTimeout <= 0 {
		return fmt.Errorf("campaign: timeouts must be positive")
	}
	switch c.Generator.Provider {
	case "gemini", "bedrock", "template":
	default:
		return fmt.Errorf("generator.provider: unknown provider %q", c.Generator.Provider)
	}
	switch c.Mail.Provider {
	case "smtp", "ses":
	default:
		return fmt.Errorf("mail.provider: unknown provider %q", c.Mail.Provider)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseDurations(v string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range splitList(v) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
