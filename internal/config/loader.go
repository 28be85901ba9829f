package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/session-roster/internal/recurrence"
)

// EnvPrefix starts every environment variable the loader reads.
const EnvPrefix = "ROSTER_"

// Config captures the settings of the roster daemon.
type Config struct {
	HTTPPort     int
	SQLiteDSN    string
	StoreDriver  string
	StoreTimeout time.Duration

	DefaultCapacity          int
	MaxGroupSize             int
	GroupRegistrationEnabled bool

	TimeZone             *time.Location
	TrainingDays         []time.Weekday
	SessionStartTime     string
	PastSessionRetention time.Duration
	MaintenanceInterval  time.Duration

	LogLevel  string
	LogFormat string

	TelegramToken string
	NATSURL       string
	NATSSubject   string

	SheetsSpreadsheetID   string
	SheetsCredentialsFile string

	NotifyWorkers     int
	NotifyMaxAttempts int
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPPort:            8080,
		SQLiteDSN:           "roster.db",
		StoreDriver:         "sqlite",
		StoreTimeout:        5 * time.Second,
		DefaultCapacity:     18,
		MaxGroupSize:        3,
		TimeZone:            time.UTC,
		TrainingDays:        []time.Weekday{time.Thursday, time.Sunday},
		SessionStartTime:    "19:00",
		MaintenanceInterval: time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
		NATSSubject:         "roster.events",
		NotifyWorkers:       2,
		NotifyMaxAttempts:   5,
	}
}

// Load reads the YAML file at path, when path is set, and then the process
// environment. Environment values win over file values. Every invalid value
// is reported in one error.
func Load(path string) (Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG_FILE"))
	}

	file := map[string]string{}
	if path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return Config{}, err
		}
	}

	lookup := func(name string) string {
		if value := strings.TrimSpace(os.Getenv(EnvPrefix + strings.ToUpper(name))); value != "" {
			return value
		}
		return file[name]
	}
	return parse(lookup, unknownKeys(file))
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToLower(key)] = strings.Join(parts, ",")
		default:
			values[strings.ToLower(key)] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return values, nil
}

var knownKeys = map[string]bool{
	"http_port": true, "sqlite_dsn": true, "store": true, "store_timeout": true,
	"default_capacity": true, "max_group_size": true, "group_registration": true,
	"timezone": true, "training_days": true, "session_start": true,
	"past_retention": true, "maintenance_interval": true,
	"log_level": true, "log_format": true,
	"telegram_token": true, "nats_url": true, "nats_subject": true,
	"sheets_spreadsheet_id": true, "sheets_credentials_file": true,
	"notify_workers": true, "notify_max_attempts": true,
}

func unknownKeys(file map[string]string) []string {
	var unknown []string
	for key := range file {
		if !knownKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func parse(lookup func(string) string, unknown []string) (Config, error) {
	cfg := Default()
	invalid := make([]string, 0, 2)
	bad := func(name string) {
		invalid = append(invalid, EnvPrefix+strings.ToUpper(name))
	}

	intValue := func(name string, minimum int, target *int) {
		value := lookup(name)
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < minimum {
			bad(name)
			return
		}
		*target = n
	}
	durationValue := func(name string, target *time.Duration) {
		value := lookup(name)
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			bad(name)
			return
		}
		*target = d
	}
	stringValue := func(name string, target *string) {
		if value := lookup(name); value != "" {
			*target = value
		}
	}
	oneOf := func(name string, target *string, allowed ...string) {
		value := strings.ToLower(lookup(name))
		if value == "" {
			return
		}
		for _, candidate := range allowed {
			if value == candidate {
				*target = value
				return
			}
		}
		bad(name)
	}

	intValue("http_port", 1, &cfg.HTTPPort)
	if cfg.HTTPPort > 65535 {
		bad("http_port")
	}
	stringValue("sqlite_dsn", &cfg.SQLiteDSN)
	oneOf("store", &cfg.StoreDriver, "sqlite", "memory")
	durationValue("store_timeout", &cfg.StoreTimeout)

	intValue("default_capacity", 0, &cfg.DefaultCapacity)
	intValue("max_group_size", 1, &cfg.MaxGroupSize)
	if value := lookup("group_registration"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			bad("group_registration")
		} else {
			cfg.GroupRegistrationEnabled = enabled
		}
	}

	if value := lookup("timezone"); value != "" {
		loc, err := time.LoadLocation(value)
		if err != nil {
			bad("timezone")
		} else {
			cfg.TimeZone = loc
		}
	}
	if value := lookup("training_days"); value != "" {
		days, err := recurrence.ParseWeekdays(strings.Split(value, ","))
		if err != nil {
			bad("training_days")
		} else {
			cfg.TrainingDays = days
		}
	}
	if value := lookup("session_start"); value != "" {
		if _, err := time.Parse("15:04", value); err != nil {
			bad("session_start")
		} else {
			cfg.SessionStartTime = value
		}
	}
	durationValue("past_retention", &cfg.PastSessionRetention)
	durationValue("maintenance_interval", &cfg.MaintenanceInterval)

	oneOf("log_level", &cfg.LogLevel, "debug", "info", "warn", "error")
	oneOf("log_format", &cfg.LogFormat, "json", "text")

	stringValue("telegram_token", &cfg.TelegramToken)
	stringValue("nats_url", &cfg.NATSURL)
	stringValue("nats_subject", &cfg.NATSSubject)
	stringValue("sheets_spreadsheet_id", &cfg.SheetsSpreadsheetID)
	stringValue("sheets_credentials_file", &cfg.SheetsCredentialsFile)
	intValue("notify_workers", 1, &cfg.NotifyWorkers)
	intValue("notify_max_attempts", 1, &cfg.NotifyMaxAttempts)

	var missing []string
	if cfg.StoreDriver == "sqlite" && cfg.SQLiteDSN == "" {
		missing = append(missing, EnvPrefix+"SQLITE_DSN")
	}
	if cfg.SheetsSpreadsheetID != "" && cfg.SheetsCredentialsFile == "" {
		missing = append(missing, EnvPrefix+"SHEETS_CREDENTIALS_FILE")
	}
	if cfg.SheetsCredentialsFile != "" && cfg.SheetsSpreadsheetID == "" {
		missing = append(missing, EnvPrefix+"SHEETS_SPREADSHEET_ID")
	}

	if len(unknown) > 0 {
		return Config{}, fmt.Errorf("unknown configuration keys: %s", strings.Join(unknown, ", "))
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration values are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}
