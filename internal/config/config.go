package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"colonywars/internal/ledger"
)

type APIConfig struct {
	Addr string `env:"CWARS_API_ADDR" envDefault:":8080"`
	Port string `env:"PORT"`

	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"CWARS_SQLITE_PATH" envDefault:"colonywars.db"`
	OracleURL    string `env:"CWARS_ORACLE_URL"`
	OracleAPIKey string `env:"CWARS_ORACLE_API_KEY"`
	Vault        string `env:"CWARS_VAULT" envDefault:"colonywars:vault"`

	SweepEvery    time.Duration `env:"CWARS_SWEEP_EVERY" envDefault:"1m"`
	SnapshotEvery time.Duration `env:"CWARS_SNAPSHOT_EVERY" envDefault:"15m"`
	SnapshotKeep  int           `env:"CWARS_SNAPSHOT_KEEP" envDefault:"10"`

	RateLimit float64 `env:"CWARS_RATE_LIMIT" envDefault:"10"`
	RateBurst int     `env:"CWARS_RATE_BURST" envDefault:"20"`

	DiscordToken   string `env:"CWARS_DISCORD_TOKEN"`
	DiscordChannel string `env:"CWARS_DISCORD_CHANNEL"`

	Tuning Tuning `envPrefix:"CWARS_"`
}

// Tuning holds the ledger parameters that are fixed at startup. Everything
// else is changed at runtime through the admin endpoints.
type Tuning struct {
	Admins                 []string      `env:"ADMINS" envSeparator:","`
	MaxAllianceMembers     int           `env:"MAX_ALLIANCE_MEMBERS" envDefault:"8"`
	AllianceCreationWindow time.Duration `env:"ALLIANCE_CREATION_WINDOW" envDefault:"24h"`
	InvitationTTL          time.Duration `env:"INVITATION_TTL" envDefault:"168h"`
	BetrayalGrace          time.Duration `env:"BETRAYAL_GRACE" envDefault:"24h"`
	BetrayalCooldown       time.Duration `env:"BETRAYAL_COOLDOWN" envDefault:"168h"`
	ForgivenessWindow      time.Duration `env:"FORGIVENESS_WINDOW" envDefault:"48h"`
	MinStakeChargePercent  int           `env:"MIN_STAKE_CHARGE_PERCENT" envDefault:"50"`
	MaxReinforcements      int           `env:"MAX_REINFORCEMENTS" envDefault:"2"`
	ReinforcementCooldown  time.Duration `env:"REINFORCEMENT_COOLDOWN" envDefault:"1h"`
	MaintenancePeriod      time.Duration `env:"MAINTENANCE_PERIOD" envDefault:"168h"`
	AttackCooldown         time.Duration `env:"ATTACK_COOLDOWN" envDefault:"6h"`
	MinRegistrationStake   int64         `env:"MIN_REGISTRATION_STAKE" envDefault:"100"`
	MinAttackStake         int64         `env:"MIN_ATTACK_STAKE" envDefault:"500"`
	MaxJoinDebt            int64         `env:"MAX_JOIN_DEBT" envDefault:"10000"`
	ChargeRegenPerHour     int           `env:"CHARGE_REGEN_PER_HOUR" envDefault:"5"`
	ChargeMultiplierBps    int           `env:"CHARGE_EVENT_MULTIPLIER_BPS" envDefault:"10000"`
}

// Ledger builds the initial ledger configuration. Fees keep their defaults.
func (t Tuning) Ledger() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.MaxAllianceMembers = t.MaxAllianceMembers
	cfg.AllianceCreationWindow = t.AllianceCreationWindow
	cfg.InvitationTTL = t.InvitationTTL
	cfg.BetrayalGrace = t.BetrayalGrace
	cfg.BetrayalCooldown = t.BetrayalCooldown
	cfg.ForgivenessWindow = t.ForgivenessWindow
	cfg.MinStakeChargePercent = t.MinStakeChargePercent
	cfg.MaxReinforcements = t.MaxReinforcements
	cfg.ReinforcementCooldown = t.ReinforcementCooldown
	cfg.MaintenancePeriod = t.MaintenancePeriod
	cfg.AttackCooldown = t.AttackCooldown
	cfg.MinRegistrationStake = t.MinRegistrationStake
	cfg.MinAttackStake = t.MinAttackStake
	cfg.MaxJoinDebt = t.MaxJoinDebt
	cfg.ChargeRegenPerHour = t.ChargeRegenPerHour
	cfg.ChargeEventMultiplierBps = t.ChargeMultiplierBps
	cfg.Admins = cfg.Admins[:0]
	for _, a := range t.Admins {
		if addr := ledger.NormalizeAddress(a); !addr.IsZero() {
			cfg.Admins = append(cfg.Admins, addr)
		}
	}
	return cfg
}

type CLIConfig struct {
	APIBaseURL string `env:"CW_API_BASE_URL" envDefault:"http://localhost:8080"`
	Address    string `env:"CW_ADDRESS"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	return loadAPI(env.Options{})
}

func loadAPI(opts env.Options) (APIConfig, error) {
	var cfg APIConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(cfg.Port); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.OracleURL = strings.TrimRight(strings.TrimSpace(cfg.OracleURL), "/")

	if cfg.DatabaseURL == "" && strings.TrimSpace(cfg.SQLitePath) == "" {
		return cfg, fmt.Errorf("DATABASE_URL or CWARS_SQLITE_PATH is required")
	}
	if cfg.OracleURL != "" && strings.TrimSpace(cfg.OracleAPIKey) == "" {
		return cfg, fmt.Errorf("CWARS_ORACLE_API_KEY is required with CWARS_ORACLE_URL")
	}
	if cfg.SweepEvery <= 0 || cfg.SnapshotEvery <= 0 {
		return cfg, fmt.Errorf("sweep and snapshot intervals must be positive")
	}
	if (cfg.DiscordToken == "") != (cfg.DiscordChannel == "") {
		return cfg, fmt.Errorf("CWARS_DISCORD_TOKEN and CWARS_DISCORD_CHANNEL must be set together")
	}
	if cfg.Tuning.MaxAllianceMembers < 2 {
		return cfg, fmt.Errorf("CWARS_MAX_ALLIANCE_MEMBERS must be at least 2")
	}
	return cfg, nil
}

// DevOracles reports whether the API runs against the in-memory oracles.
func (c APIConfig) DevOracles() bool { return c.OracleURL == "" }

func LoadCLIFromEnv() CLIConfig {
	return loadCLI(env.Options{})
}

func loadCLI(opts env.Options) CLIConfig {
	var cfg CLIConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.Address = strings.TrimSpace(cfg.Address)
	return cfg
}
