// Package config loads the declarative configuration file of §6.1: a YAML
// document as the base, overlaid with environment variables (the way the
// rest of this stack's config loader layers envdecode over a parsed
// document), with optional .env loading for local/dev runs.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/testbed-kernel/internal/logging"
)

// ActorType enumerates the three federation roles (§2, §6.1).
type ActorType string

const (
	Orchestrator ActorType = "orchestrator"
	Broker       ActorType = "broker"
	Authority    ActorType = "authority"
)

// RuntimeConfig holds the `runtime` section: bus endpoints and timeouts.
type RuntimeConfig struct {
	BusEndpoints      []string `yaml:"bus_endpoints"`
	SchemaRegistry    string   `yaml:"schema_registry"`
	SASLMechanism     string   `yaml:"sasl_mechanism" env:"RUNTIME_SASL_MECHANISM"`
	SASLUsername      string   `yaml:"sasl_username" env:"RUNTIME_SASL_USERNAME"`
	SASLPassword      string   `yaml:"sasl_password" env:"RUNTIME_SASL_PASSWORD"`
	SSLCAFile         string   `yaml:"ssl_ca_file"`
	GroupID           string   `yaml:"group_id" env:"RUNTIME_GROUP_ID"`
	RequestTimeoutMs  int      `yaml:"request_timeout_ms" env:"RUNTIME_REQUEST_TIMEOUT_MS"`
	RPCRequestTimeoutS int     `yaml:"rpc_request_timeout_s" env:"RUNTIME_RPC_REQUEST_TIMEOUT_S"`
}

func (r *RuntimeConfig) applyDefaults() {
	if r.RequestTimeoutMs == 0 {
		r.RequestTimeoutMs = 120000
	}
	if r.RPCRequestTimeoutS == 0 {
		r.RPCRequestTimeoutS = 900
	}
}

// DatabaseConfig holds the `database` section.
type DatabaseConfig struct {
	User     string `yaml:"user" env:"DATABASE_USER"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD"`
	Name     string `yaml:"name" env:"DATABASE_NAME"`
	Host     string `yaml:"host" env:"DATABASE_HOST"`
}

// DSN renders a libpq connection string from the parsed fields.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.User, d.Password, d.Name)
}

// OAuthConfig holds the `oauth` section.
type OAuthConfig struct {
	JWKSURL             string `yaml:"jwks_url" env:"OAUTH_JWKS_URL"`
	KeyRefreshIntervalS int    `yaml:"key_refresh_interval_s" env:"OAUTH_KEY_REFRESH_INTERVAL_S"`
	VerifyExp           bool   `yaml:"verify_exp" env:"OAUTH_VERIFY_EXP"`
}

// TimeConfig holds the `time` section driving the ticker (§4.6).
type TimeConfig struct {
	StartTimeMs int64 `yaml:"start_time_ms"`
	CycleMillis int64 `yaml:"cycle_millis"`
	Manual      bool  `yaml:"manual"`
}

// Neo4jConfig holds the `neo4j` section (resource graph backing store,
// §6.4 — opaque to the kernel, carried only so a graph.Provider
// implementation has somewhere to read connection details from).
type Neo4jConfig struct {
	URL            string `yaml:"url" env:"NEO4J_URL"`
	User           string `yaml:"user" env:"NEO4J_USER"`
	Password       string `yaml:"password" env:"NEO4J_PASSWORD"`
	ImportHostDir  string `yaml:"import_host_dir"`
	ImportDir      string `yaml:"import_dir"`
}

// PluginConfig describes a `module/class/properties` triple used for
// policy, handler, and control plugin references.
type PluginConfig struct {
	Module     string            `yaml:"module"`
	Class      string            `yaml:"class"`
	Properties map[string]string `yaml:"properties"`
}

// ResourceConfig describes one entry of `actor.resources[]`.
type ResourceConfig struct {
	Type    string       `yaml:"type"`
	Label   string       `yaml:"label"`
	Handler PluginConfig `yaml:"handler"`
}

// ControlConfig describes one entry of `actor.controls[]`.
type ControlConfig struct {
	Module string `yaml:"module"`
	Class  string `yaml:"class"`
	Type   string `yaml:"type"`
}

// ActorConfig holds the `actor` section.
type ActorConfig struct {
	Name          string           `yaml:"name" env:"ACTOR_NAME"`
	Guid          string           `yaml:"guid" env:"ACTOR_GUID"`
	Type          ActorType        `yaml:"type" env:"ACTOR_TYPE"`
	KafkaTopic    string           `yaml:"kafka_topic" env:"ACTOR_KAFKA_TOPIC"`
	Description   string           `yaml:"description"`
	SubstrateFile string           `yaml:"substrate_file"`
	Policy        PluginConfig     `yaml:"policy"`
	Resources     []ResourceConfig `yaml:"resources"`
	Controls      []ControlConfig  `yaml:"controls"`
}

// PeerConfig describes one entry of `peers[]`.
type PeerConfig struct {
	Name       string `yaml:"name"`
	Type       ActorType `yaml:"type"`
	Guid       string `yaml:"guid"`
	KafkaTopic string `yaml:"kafka_topic"`
	Delegation string `yaml:"delegation,omitempty"`
}

// Config is the top-level document described by §6.1.
type Config struct {
	Runtime  RuntimeConfig    `yaml:"runtime"`
	Logging  logging.Config   `yaml:"logging"`
	OAuth    OAuthConfig      `yaml:"oauth"`
	Database DatabaseConfig   `yaml:"database"`
	Container struct {
		Guid string `yaml:"guid" env:"CONTAINER_GUID"`
	} `yaml:"container"`
	Time    TimeConfig    `yaml:"time"`
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Actor   ActorConfig   `yaml:"actor"`
	Peers   []PeerConfig  `yaml:"peers"`
	BQM     map[string]string `yaml:"bqm,omitempty"`
	PDP     map[string]string `yaml:"pdp,omitempty"`
}

// Load reads path, loads an optional .env file from the working directory, parses the YAML
// document, then overlays environment variables onto the struct tags
// above — the same three-step load the teacher's pkg/config performs.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment overlay: %w", err)
	}

	cfg.Runtime.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Actor.Type {
	case Orchestrator, Broker, Authority:
	default:
		return fmt.Errorf("actor.type must be one of orchestrator|broker|authority, got %q", c.Actor.Type)
	}
	if c.Time.CycleMillis <= 0 {
		return fmt.Errorf("time.cycle_millis must be positive")
	}
	return nil
}
