// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_TOKEN"
	KeyMainChatID        = "MAIN_CHAT_ID"
	KeyAdminChatID       = "ADMIN_CHAT_ID"
	KeyWaitingRoomChatID = "WAITING_ROOM_CHAT_ID"
	KeyCalendarURL       = "CALENDAR_URL"
	KeyLocalTZ           = "LOCAL_TZ"
	KeyRulesURL          = "RULES_URL"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv      = EnvProduction
	DefaultLogLevel    = "info"
	DefaultHTTPPort    = 8080
	DefaultCalendarURL = "https://calendar.cambfurs.co.uk"
	DefaultLocalTZ     = "Europe/London"
	DefaultRulesURL    = "https://rules.cambfurs.co.uk"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyMainChatID,
		Example:     "-1001234567890",
		Required:    true,
		Description: "Chat id of the main group the bot gates entry to.",
		Notes:       "Joining requires an admin-issued invite link; see " + KeyWaitingRoomChatID + ".",
	},
	{
		Key:         KeyAdminChatID,
		Example:     "-1001234567891",
		Required:    true,
		Description: "Chat id of the admin group that receives alerts.",
	},
	{
		Key:         KeyWaitingRoomChatID,
		Example:     "-1001234567892",
		Required:    true,
		Description: "Chat id of the waiting-room group new members pass through.",
	},
	{
		Key:         KeyCalendarURL,
		Example:     DefaultCalendarURL,
		Default:     DefaultCalendarURL,
		Description: "iCalendar feed with upcoming meet events.",
	},
	{
		Key:         KeyLocalTZ,
		Example:     DefaultLocalTZ,
		Default:     DefaultLocalTZ,
		Description: "IANA timezone events and reminders are computed in.",
	},
	{
		Key:         KeyRulesURL,
		Example:     DefaultRulesURL,
		Default:     DefaultRulesURL,
		Description: "Rules page linked in the waiting-room welcome.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken     string
	MainChatID        int64
	AdminChatID       int64
	WaitingRoomChatID int64
	CalendarURL       string
	LocalTZ           string
	RulesURL          string
	AppEnv            string
	LogLevel          string
	HTTPPort          int

	// Location is the resolved LocalTZ zone.
	Location *time.Location
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken: strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		CalendarURL:   firstNonEmpty(strings.TrimSpace(os.Getenv(KeyCalendarURL)), DefaultCalendarURL),
		LocalTZ:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLocalTZ)), DefaultLocalTZ),
		RulesURL:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyRulesURL)), DefaultRulesURL),
		LogLevel:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:      DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	chatIDs := []struct {
		key    string
		target *int64
	}{
		{KeyMainChatID, &cfg.MainChatID},
		{KeyAdminChatID, &cfg.AdminChatID},
		{KeyWaitingRoomChatID, &cfg.WaitingRoomChatID},
	}

	for _, spec := range chatIDs {
		raw := strings.TrimSpace(os.Getenv(spec.key))
		if raw == "" {
			missing = append(missing, spec.key)
			continue
		}

		chatID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", spec.key, parseErr)
		}
		if chatID == 0 {
			return Config{}, fmt.Errorf("%s must be a non-zero chat id", spec.key)
		}
		*spec.target = chatID
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	location, err := time.LoadLocation(cfg.LocalTZ)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyLocalTZ, err)
	}
	cfg.Location = location

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders a one-line-per-key summary safe for logs: the bot
// token is masked down to a short prefix.
func FormatRedacted(c Config) string {
	lines := []string{
		"app_env: " + c.AppEnv,
		"telegram_token: " + redactToken(c.TelegramToken),
		"main_chat_id: " + strconv.FormatInt(c.MainChatID, 10),
		"admin_chat_id: " + strconv.FormatInt(c.AdminChatID, 10),
		"waiting_room_chat_id: " + strconv.FormatInt(c.WaitingRoomChatID, 10),
		"calendar_url: " + c.CalendarURL,
		"local_tz: " + c.LocalTZ,
		"rules_url: " + c.RulesURL,
		"log_level: " + c.LogLevel,
		"http_port: " + strconv.Itoa(c.HTTPPort),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "redacted"
	}

	return token[:4] + "...redacted"
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
