package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatrealm/chatrealm/internal/types"
)

// Persona is the AI participant assigned to a room type.
type Persona struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Tuning holds the conversational thresholds. These are operational
// defaults, not contract: deployments override them in the config file.
type Tuning struct {
	UserSilenceThreshold  time.Duration
	GroupSilenceThreshold time.Duration
	EngagementTick        time.Duration
	HistoryLimit          int
	QuietUserWindow       time.Duration
	QuietUserMessages     int
	TopicStaleMessages    int
	PayloadBudget         int
	MaxThreadSummaries    int
	ProviderTimeout       time.Duration
	MuteDuration          time.Duration
	WarnsBeforeMute       int
	MutesBeforeBan        int
	OffenseWindow         time.Duration
	IdleRoomGrace         time.Duration
	SessionTTL            time.Duration
	ResumeOnRejoin        bool
	FallbackReply         string
}

type Config struct {
	ServerAddr      string
	DatabaseDSN     string
	RedisURL        string
	SigningKey      []byte
	AllowedOrigins  []string
	Provider        string
	ProviderAPIKey  string
	ProviderModel   string
	ProviderBaseURL string

	Personas map[types.RoomType]Persona
	Tuning   Tuning
}

// duration accepts Go duration strings ("90s", "5m") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", n.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// file is the on-disk YAML shape. Every field is optional; absent
// fields keep their built-in defaults, which is why the tuning fields
// are pointers.
type file struct {
	Personas map[string]Persona `yaml:"personas"`
	Tuning   struct {
		UserSilenceThreshold  *duration `yaml:"user_silence_threshold"`
		GroupSilenceThreshold *duration `yaml:"group_silence_threshold"`
		EngagementTick        *duration `yaml:"engagement_tick"`
		HistoryLimit          *int      `yaml:"history_limit"`
		QuietUserWindow       *duration `yaml:"quiet_user_window"`
		QuietUserMessages     *int      `yaml:"quiet_user_messages"`
		TopicStaleMessages    *int      `yaml:"topic_stale_messages"`
		PayloadBudget         *int      `yaml:"payload_budget"`
		MaxThreadSummaries    *int      `yaml:"max_thread_summaries"`
		ProviderTimeout       *duration `yaml:"provider_timeout"`
		MuteDuration          *duration `yaml:"mute_duration"`
		WarnsBeforeMute       *int      `yaml:"warns_before_mute"`
		MutesBeforeBan        *int      `yaml:"mutes_before_ban"`
		OffenseWindow         *duration `yaml:"offense_window"`
		IdleRoomGrace         *duration `yaml:"idle_room_grace"`
		SessionTTL            *duration `yaml:"session_ttl"`
		ResumeOnRejoin        *bool     `yaml:"resume_on_rejoin"`
		FallbackReply         *string   `yaml:"fallback_reply"`
	} `yaml:"tuning"`
}

func defaultTuning() Tuning {
	return Tuning{
		UserSilenceThreshold:  120 * time.Second,
		GroupSilenceThreshold: 45 * time.Second,
		EngagementTick:        15 * time.Second,
		HistoryLimit:          20,
		QuietUserWindow:       10 * time.Minute,
		QuietUserMessages:     3,
		TopicStaleMessages:    12,
		PayloadBudget:         8192,
		MaxThreadSummaries:    3,
		ProviderTimeout:       10 * time.Second,
		MuteDuration:          300 * time.Second,
		WarnsBeforeMute:       3,
		MutesBeforeBan:        2,
		OffenseWindow:         30 * time.Minute,
		IdleRoomGrace:         30 * time.Second,
		SessionTTL:            time.Hour,
		ResumeOnRejoin:        true,
	}
}

func defaultPersonas() map[types.RoomType]Persona {
	return map[types.RoomType]Persona{
		types.RoomStudyGroup: {
			Name: "Dr. Chen",
			Prompt: "You are Dr. Chen, an encouraging AI teaching assistant who facilitates group learning. " +
				"Be patient and knowledgeable, celebrate small wins, and keep responses under three sentences " +
				"unless explaining complex topics. Ask follow-up questions and encourage students to help each other.",
		},
		types.RoomSupportCircle: {
			Name: "Sam",
			Prompt: "You are Sam, an AI counselor who creates a safe, supportive space for sharing. " +
				"Be empathetic, non-judgmental and warm. Never give medical advice. Keep responses to two or " +
				"three sentences, acknowledge feelings before responding, and help members support each other.",
		},
		types.RoomCasualLounge: {
			Name: "Rex",
			Prompt: "You are Rex, a charismatic AI bartender who brings people together. Be witty and warm, " +
				"match the energy of the group, keep responses to one or two sentences, and help people find " +
				"common ground. Use humor when appropriate, but stay inclusive.",
		},
		types.RoomTutorial: {
			Name: "Atlas",
			Prompt: "You are Atlas, a friendly AI guide who helps people learn the platform. Use simple, clear " +
				"language with no jargon, keep responses to one or two sentences, offer specific actionable help " +
				"when someone seems lost, and celebrate when they figure things out.",
		},
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// New builds a Config from flag values plus an optional YAML file.
func New(serverAddr, databaseDSN, redisURL, base64Secret, provider, providerKey, providerModel, providerBaseURL, filePath string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:      serverAddr,
		DatabaseDSN:     databaseDSN,
		RedisURL:        redisURL,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		Provider:        provider,
		ProviderAPIKey:  providerKey,
		ProviderModel:   providerModel,
		ProviderBaseURL: providerBaseURL,
		Personas:        defaultPersonas(),
		Tuning:          defaultTuning(),
	}

	if filePath != "" {
		if err := cfg.loadFile(filePath); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for rt, p := range f.Personas {
		c.Personas[types.RoomType(rt)] = p
	}

	t := &c.Tuning
	setDuration(&t.UserSilenceThreshold, f.Tuning.UserSilenceThreshold)
	setDuration(&t.GroupSilenceThreshold, f.Tuning.GroupSilenceThreshold)
	setDuration(&t.EngagementTick, f.Tuning.EngagementTick)
	setInt(&t.HistoryLimit, f.Tuning.HistoryLimit)
	setDuration(&t.QuietUserWindow, f.Tuning.QuietUserWindow)
	setInt(&t.QuietUserMessages, f.Tuning.QuietUserMessages)
	setInt(&t.TopicStaleMessages, f.Tuning.TopicStaleMessages)
	setInt(&t.PayloadBudget, f.Tuning.PayloadBudget)
	setInt(&t.MaxThreadSummaries, f.Tuning.MaxThreadSummaries)
	setDuration(&t.ProviderTimeout, f.Tuning.ProviderTimeout)
	setDuration(&t.MuteDuration, f.Tuning.MuteDuration)
	setInt(&t.WarnsBeforeMute, f.Tuning.WarnsBeforeMute)
	setInt(&t.MutesBeforeBan, f.Tuning.MutesBeforeBan)
	setDuration(&t.OffenseWindow, f.Tuning.OffenseWindow)
	setDuration(&t.IdleRoomGrace, f.Tuning.IdleRoomGrace)
	setDuration(&t.SessionTTL, f.Tuning.SessionTTL)
	if f.Tuning.ResumeOnRejoin != nil {
		t.ResumeOnRejoin = *f.Tuning.ResumeOnRejoin
	}
	if f.Tuning.FallbackReply != nil {
		t.FallbackReply = *f.Tuning.FallbackReply
	}

	return nil
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// validate surfaces deployment defects at startup. A room type without a
// persona is fatal here rather than at the first join that needs it.
func (c *Config) validate() error {
	for _, rt := range []types.RoomType{
		types.RoomStudyGroup,
		types.RoomSupportCircle,
		types.RoomCasualLounge,
		types.RoomTutorial,
	} {
		p, ok := c.Personas[rt]
		if !ok || p.Name == "" || p.Prompt == "" {
			return fmt.Errorf("no persona configured for room type %q", rt)
		}
	}

	if c.Tuning.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if c.Tuning.PayloadBudget <= 0 {
		return fmt.Errorf("payload budget must be positive")
	}

	switch c.Provider {
	case "openai", "gemini", "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	return nil
}
