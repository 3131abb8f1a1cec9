package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Numbers are the reactions used to vote in rounds where everybody answers
// the same prompt; index i votes for candidate i.
var Numbers = []string{"0️⃣", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	Prefix         string `env:"PREFIX" envDefault:"q!"`
	BotName        string `env:"BOT_NAME" envDefault:"Quipdash"`
	PacksDir       string `env:"PACKS_DIR" envDefault:"./prompts"`
	DefaultPack    string `env:"DEFAULT_PACK" envDefault:"default"`
	CategoryPrefix string `env:"CATEGORY_PREFIX" envDefault:"quipdash-"`
	ExportEnabled  bool   `env:"EXPORT_ENABLED" envDefault:"true"`
	ExportFile     string `env:"EXPORT_FILE" envDefault:"./quipdash-results.txt"`
	ArchivePath    string `env:"ARCHIVE_PATH" envDefault:"./quipdash.db"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	Game Game
}

// Game holds everything a single session reads while it runs.
type Game struct {
	MinPlayers     int `env:"MIN_PLAYERS" envDefault:"3"`
	MaxPlayers     int `env:"MAX_PLAYERS" envDefault:"8"`
	PlayerVotes    int `env:"PLAYER_VOTES" envDefault:"3"`
	SpectatorVotes int `env:"SPECTATOR_VOTES" envDefault:"1"`

	RoundDelay       time.Duration `env:"ROUND_DELAY" envDefault:"5s"`
	VotingDuration   time.Duration `env:"VOTING_DURATION" envDefault:"20s"`
	VotingInterim    time.Duration `env:"VOTING_INTERIM" envDefault:"5s"`
	DisbandDelay     time.Duration `env:"DISBAND_DELAY" envDefault:"60s"`
	PropagationGrace time.Duration `env:"PROPAGATION_GRACE" envDefault:"2s"`
	RevealDelay      time.Duration `env:"REVEAL_DELAY" envDefault:"1s"`
	NoticeTTL        time.Duration `env:"NOTICE_TTL" envDefault:"3s"`

	Rounds                Rounds `env:"ROUNDS" envDefault:"2:90s:1,2:90s:2,1:60s:3"`
	NoResponsePlaceholder string `env:"NO_RESPONSE_PLACEHOLDER" envDefault:"*No response*"`

	Glyphs Glyphs
	Colors Colors
}

type Glyphs struct {
	JoinPlayer    string `env:"GLYPH_JOIN_PLAYER" envDefault:"🎮"`
	JoinSpectator string `env:"GLYPH_JOIN_SPECTATOR" envDefault:"👀"`
	Vote1         string `env:"GLYPH_VOTE_1" envDefault:"🅰️"`
	Vote2         string `env:"GLYPH_VOTE_2" envDefault:"🅱️"`

	BarEmpty  string `env:"GLYPH_BAR_EMPTY" envDefault:"⬛"`
	BarMiddle string `env:"GLYPH_BAR_MIDDLE" envDefault:"🟨"`
	BarFull   string `env:"GLYPH_BAR_FULL" envDefault:"🟩"`
	CapEmpty  string `env:"GLYPH_CAP_EMPTY" envDefault:"⬛"`
	CapFull   string `env:"GLYPH_CAP_FULL" envDefault:"🟩"`
}

type Colors struct {
	Invite         int `env:"COLOR_INVITE" envDefault:"16751158"`
	Rules          int `env:"COLOR_RULES" envDefault:"11751890"`
	Vote           int `env:"COLOR_VOTE" envDefault:"7506394"`
	PlayerList     int `env:"COLOR_PLAYER_LIST" envDefault:"3447003"`
	Scoreboard     int `env:"COLOR_SCOREBOARD" envDefault:"15844367"`
	PromptDelay    int `env:"COLOR_PROMPT_DELAY" envDefault:"9807270"`
	Prompt         int `env:"COLOR_PROMPT" envDefault:"10181046"`
	PromptsFailed  int `env:"COLOR_PROMPTS_FAILED" envDefault:"15158332"`
	PromptsSuccess int `env:"COLOR_PROMPTS_SUCCESS" envDefault:"3066993"`
}

// Round is one entry of the round sequence.
type Round struct {
	Prompts    int           `json:"prompts"`
	Duration   time.Duration `json:"duration"`
	Multiplier int           `json:"multiplier"`
}

// Rounds parses from a comma separated list of prompts:duration:multiplier.
type Rounds []Round

func (r *Rounds) UnmarshalText(text []byte) error {
	var out Rounds
	for _, part := range strings.Split(string(text), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return fmt.Errorf("round %q: want prompts:duration:multiplier", part)
		}
		prompts, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("round %q prompts: %w", part, err)
		}
		duration, err := time.ParseDuration(fields[1])
		if err != nil {
			return fmt.Errorf("round %q duration: %w", part, err)
		}
		multiplier, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("round %q multiplier: %w", part, err)
		}
		out = append(out, Round{Prompts: prompts, Duration: duration, Multiplier: multiplier})
	}
	*r = out
	return nil
}

func (r Rounds) String() string {
	parts := make([]string, len(r))
	for i, round := range r {
		parts[i] = fmt.Sprintf("%d:%s:%d", round.Prompts, round.Duration, round.Multiplier)
	}
	return strings.Join(parts, ",")
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Game.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the configuration an empty environment would produce.
func Default() Config {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return c
}

func (g Game) Validate() error {
	var errs []error
	if len(g.Rounds) == 0 {
		errs = append(errs, errors.New("at least one round is required"))
	}
	for i, r := range g.Rounds {
		if r.Prompts != 1 && r.Prompts != 2 {
			errs = append(errs, fmt.Errorf("round %d: prompts per player must be 1 or 2, got %d", i+1, r.Prompts))
		}
		if r.Duration <= 0 {
			errs = append(errs, fmt.Errorf("round %d: duration must be positive", i+1))
		}
		if r.Multiplier <= 0 {
			errs = append(errs, fmt.Errorf("round %d: multiplier must be positive", i+1))
		}
	}
	if g.MinPlayers < 2 {
		errs = append(errs, fmt.Errorf("min players must be at least 2, got %d", g.MinPlayers))
	}
	if g.MaxPlayers < g.MinPlayers {
		errs = append(errs, fmt.Errorf("max players (%d) is below min players (%d)", g.MaxPlayers, g.MinPlayers))
	}
	if g.MaxPlayers > len(Numbers)-1 {
		errs = append(errs, fmt.Errorf("max players cannot exceed %d", len(Numbers)-1))
	}
	if g.PlayerVotes < 0 || g.SpectatorVotes < 0 {
		errs = append(errs, errors.New("vote budgets cannot be negative"))
	}
	if g.VotingDuration <= 0 {
		errs = append(errs, errors.New("voting duration must be positive"))
	}
	return errors.Join(errs...)
}
