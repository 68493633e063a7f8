package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the booking engine.
type Config struct {
	HTTPPort  int
	SQLiteDSN string

	// Dialogue tuning. The slot cap and lookahead window are deliberate
	// configuration values rather than hidden constants.
	CandidateSlotCap     int
	LookaheadDays        int
	SlotStepMinutes      int
	ConversationWindow   time.Duration
	ThrottleWindow       time.Duration
	ThrottleMaxReplies   int
	TriggerTokenTTL      time.Duration

	// External calendar behaviour.
	ExternalCallTimeout time.Duration
	ExternalRetryMax    int
	GoogleClientID      string
	GoogleClientSecret  string
}

// Load parses configuration values from the current process environment.
//
// A .env file in the working directory is honoured for development setups.
// The loader applies defaults for optional fields while accumulating and
// reporting every missing or invalid entry at once.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:            8080,
		SQLiteDSN:           "file:booking.db?_foreign_keys=on",
		CandidateSlotCap:    6,
		LookaheadDays:       7,
		SlotStepMinutes:     30,
		ConversationWindow:  24 * time.Hour,
		ThrottleWindow:      time.Minute,
		ThrottleMaxReplies:  5,
		TriggerTokenTTL:     24 * time.Hour,
		ExternalCallTimeout: 10 * time.Second,
		ExternalRetryMax:    3,
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("BOOKING_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "BOOKING_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("BOOKING_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	readInt := func(name string, target *int, min int) {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < min {
			invalid = append(invalid, name)
			return
		}
		*target = parsed
	}

	readDuration := func(name string, target *time.Duration) {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, name)
			return
		}
		*target = parsed
	}

	readInt("BOOKING_CANDIDATE_SLOT_CAP", &cfg.CandidateSlotCap, 1)
	readInt("BOOKING_LOOKAHEAD_DAYS", &cfg.LookaheadDays, 1)
	readInt("BOOKING_SLOT_STEP_MINUTES", &cfg.SlotStepMinutes, 5)
	readInt("BOOKING_THROTTLE_MAX_REPLIES", &cfg.ThrottleMaxReplies, 1)
	readInt("BOOKING_EXTERNAL_RETRY_MAX", &cfg.ExternalRetryMax, 0)
	readDuration("BOOKING_CONVERSATION_WINDOW", &cfg.ConversationWindow)
	readDuration("BOOKING_THROTTLE_WINDOW", &cfg.ThrottleWindow)
	readDuration("BOOKING_TRIGGER_TOKEN_TTL", &cfg.TriggerTokenTTL)
	readDuration("BOOKING_EXTERNAL_CALL_TIMEOUT", &cfg.ExternalCallTimeout)

	cfg.GoogleClientID = strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_ID"))
	cfg.GoogleClientSecret = strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_SECRET"))

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
