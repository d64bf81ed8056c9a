// Package config handles Steward configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/steward/config.yaml, /etc/steward/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "steward", "config.yaml"))
	}

	paths = append(paths, "/etc/steward/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Steward configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	Agent      AgentConfig      `yaml:"agent"`
	Mail       MailConfig       `yaml:"mail"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Contacts   ContactsConfig   `yaml:"contacts"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the HTTP API listener.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "127.0.0.1")
	Port    int    `yaml:"port"`    // Default: 8385
	// TokenHash is the bcrypt hash of the API bearer token. Empty
	// disables authentication (local development only).
	TokenHash string `yaml:"token_hash"`
}

// LLMConfig defines the model provider settings.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://api.mistral.ai").
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Model is the default chat model (default "mistral-small-latest").
	Model string `yaml:"model"`
	// SummaryModel is used for conversation summarization. Defaults to Model.
	SummaryModel string `yaml:"summary_model"`
}

// EmbeddingsConfig defines the embedding provider settings.
type EmbeddingsConfig struct {
	// BaseURL is the Ollama API root (e.g. "http://localhost:11434").
	BaseURL string `yaml:"base_url"`
	// Model is the embedding model (default "nomic-embed-text").
	Model string `yaml:"model"`
}

// MemoryConfig enumerates the context assembly tunables.
type MemoryConfig struct {
	// WindowSize is the number of recent messages included verbatim
	// in the context (default 10).
	WindowSize int `yaml:"window_size"`
	// RetrievalK is the number of nearest neighbors fetched from
	// long-term memory (default 3).
	RetrievalK int `yaml:"retrieval_k"`
	// RetrievalMaxDistance drops neighbors whose L2 distance exceeds
	// it (default 0.9).
	RetrievalMaxDistance float64 `yaml:"retrieval_max_distance"`
	// FragmentThreshold is the minimum 0-1 similarity for an
	// instruction fragment to be selected (default 0.3).
	FragmentThreshold float64 `yaml:"fragment_threshold"`
	// MaxFragments caps semantic fragment selection (default 2).
	MaxFragments int `yaml:"max_fragments"`
	// SummaryInterval is the total-message-count multiple that
	// triggers a summary rewrite (default 20).
	SummaryInterval int `yaml:"summary_interval"`
}

// AgentConfig defines orchestrator loop settings.
type AgentConfig struct {
	// MaxSteps bounds model calls per turn (default 5).
	MaxSteps int `yaml:"max_steps"`
	// RetryAttempts bounds provider retries per model call (default 3).
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBaseWaitMS is the backoff base in milliseconds (default 1000).
	RetryBaseWaitMS int `yaml:"retry_base_wait_ms"`
}

// MailConfig defines IMAP/SMTP account settings for the mail tools.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	IMAPHost string `yaml:"imap_host"`
	IMAPPort int    `yaml:"imap_port"` // Default: 993
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"` // Default: 587
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Address  string `yaml:"address"` // From address for outbound mail
	TLS      bool   `yaml:"tls"`
}

// CalendarConfig defines the CalDAV endpoint for calendar tools.
type CalendarConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"` // CalDAV calendar collection URL
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ContactsConfig defines the CardDAV endpoint for contact lookup.
type ContactsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"` // CardDAV address book URL
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTConfig defines the optional turn-event publisher.
type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"` // e.g. "mqtt://localhost:1883"
	// Username and Password authenticate to the broker.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix defaults to "steward".
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8385
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.mistral.ai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "mistral-small-latest"
	}
	if c.LLM.SummaryModel == "" {
		c.LLM.SummaryModel = c.LLM.Model
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:11434"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Memory.WindowSize <= 0 {
		c.Memory.WindowSize = 10
	}
	if c.Memory.RetrievalK <= 0 {
		c.Memory.RetrievalK = 3
	}
	if c.Memory.RetrievalMaxDistance <= 0 {
		c.Memory.RetrievalMaxDistance = 0.9
	}
	if c.Memory.FragmentThreshold <= 0 {
		c.Memory.FragmentThreshold = 0.3
	}
	if c.Memory.MaxFragments <= 0 {
		c.Memory.MaxFragments = 2
	}
	if c.Memory.SummaryInterval <= 0 {
		c.Memory.SummaryInterval = 20
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 5
	}
	if c.Agent.RetryAttempts <= 0 {
		c.Agent.RetryAttempts = 3
	}
	if c.Agent.RetryBaseWaitMS <= 0 {
		c.Agent.RetryBaseWaitMS = 1000
	}
	if c.Mail.IMAPPort == 0 {
		c.Mail.IMAPPort = 993
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 587
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "steward"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Validate checks for configuration that cannot work.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.Mail.Enabled && c.Mail.IMAPHost == "" {
		return fmt.Errorf("mail.imap_host is required when mail is enabled")
	}
	if c.Calendar.Enabled && c.Calendar.URL == "" {
		return fmt.Errorf("calendar.url is required when calendar is enabled")
	}
	if c.Contacts.Enabled && c.Contacts.URL == "" {
		return fmt.Errorf("contacts.url is required when contacts is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
