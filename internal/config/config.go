// Package config reads process settings from the environment and the tier table from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ludo/internal/game"
)

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds everything cmd/server needs to wire the process.
type Config struct {
	Addr              string
	DBPath            string
	Backend           string
	DynamoTable       string
	AWSRegion         string
	ArchiveBucket     string
	MatchDuration     time.Duration
	StoreTimeout      time.Duration
	MaxAttempts       int
	WinRating         int
	LossRating        int
	WinnerShare       decimal.Decimal
	TiersPath         string
	LogLevel          string
	LogPretty         bool
	ReconcileInterval time.Duration
	CORSOrigins       []string
}

// Default returns the settings used when no variable is set.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DBPath:            "ludo.db",
		Backend:           BackendSQLite,
		DynamoTable:       "ludo-matches",
		AWSRegion:         "us-east-1",
		MatchDuration:     10 * time.Minute,
		StoreTimeout:      5 * time.Second,
		MaxAttempts:       3,
		WinRating:         25,
		LossRating:        -10,
		WinnerShare:       decimal.RequireFromString("0.75"),
		LogLevel:          "info",
		ReconcileInterval: time.Minute,
		CORSOrigins:       []string{"*"},
	}
}

// FromEnv overlays environment variables on Default. getenv is usually os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	if p := getenv("PORT"); p != "" {
		c.Addr = ":" + p
	}
	if p := getenv("DB_PATH"); p != "" {
		c.DBPath = p
	}
	if b := getenv("STORE_BACKEND"); b != "" {
		switch b {
		case BackendSQLite, BackendDynamoDB:
			c.Backend = b
		default:
			return c, fmt.Errorf("STORE_BACKEND: unknown backend %q", b)
		}
	}
	if v := getenv("DYNAMO_TABLE"); v != "" {
		c.DynamoTable = v
	}
	if v := getenv("AWS_REGION"); v != "" {
		c.AWSRegion = v
	}
	c.ArchiveBucket = getenv("ARCHIVE_BUCKET")
	c.TiersPath = getenv("TIERS_PATH")
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	var err error
	if c.MatchDuration, err = duration(getenv, "MATCH_DURATION", c.MatchDuration); err != nil {
		return c, err
	}
	if c.StoreTimeout, err = duration(getenv, "STORE_TIMEOUT", c.StoreTimeout); err != nil {
		return c, err
	}
	if c.ReconcileInterval, err = duration(getenv, "RECONCILE_INTERVAL", c.ReconcileInterval); err != nil {
		return c, err
	}
	if c.MaxAttempts, err = integer(getenv, "MAX_ATTEMPTS", c.MaxAttempts); err != nil {
		return c, err
	}
	if c.MaxAttempts < 1 {
		return c, fmt.Errorf("MAX_ATTEMPTS: must be at least 1")
	}
	if c.WinRating, err = integer(getenv, "WIN_RATING", c.WinRating); err != nil {
		return c, err
	}
	if c.LossRating, err = integer(getenv, "LOSS_RATING", c.LossRating); err != nil {
		return c, err
	}
	if v := getenv("WINNER_SHARE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return c, fmt.Errorf("WINNER_SHARE: %w", err)
		}
		if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
			return c, fmt.Errorf("WINNER_SHARE: %s outside [0, 1]", v)
		}
		c.WinnerShare = d
	}
	if v := getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.LogPretty = b
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	return c, nil
}

func duration(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("%s: must be positive", name)
	}
	return d, nil
}

func integer(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// TierFile is the JSON layout of the tier table.
type TierFile struct {
	Tiers []game.Tier `json:"tiers"`
}

// DefaultTiers is used when no tier file is configured.
func DefaultTiers() []game.Tier {
	return []game.Tier{
		{Name: "bronze", EntryFee: 100, PrizePool: 200, MinPlayers: 1, MaxPlayers: 4},
		{Name: "silver", EntryFee: 500, PrizePool: 1000, MinPlayers: 1, MaxPlayers: 4},
		{Name: "gold", EntryFee: 2000, PrizePool: 4000, MinPlayers: 2, MaxPlayers: 4},
	}
}

// LoadTiers reads a tier file. An empty path yields DefaultTiers.
func LoadTiers(path string) ([]game.Tier, error) {
	if path == "" {
		return DefaultTiers(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier config: %w", err)
	}
	var f TierFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tier config: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("tier config %s defines no tiers", path)
	}
	seen := make(map[string]bool, len(f.Tiers))
	for _, t := range f.Tiers {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("tier config %s: tier without name", path)
		case seen[t.Name]:
			return nil, fmt.Errorf("tier config %s: duplicate tier %q", path, t.Name)
		case t.EntryFee < 0 || t.PrizePool < 0:
			return nil, fmt.Errorf("tier config %s: tier %q has negative amounts", path, t.Name)
		}
		seen[t.Name] = true
	}
	return f.Tiers, nil
}

// Registry builds a tier registry from tiers.
func Registry(tiers []game.Tier) *game.Registry {
	r := game.NewRegistry()
	for _, t := range tiers {
		r.Register(t)
	}
	return r
}
