package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models kravsak.yml.
type Config struct {
	Kontrakt struct {
		Standard       string `yaml:"standard"`
		DagmulktPerDag int64  `yaml:"dagmulkt_per_dag"`
	} `yaml:"kontrakt"`
	Forsering struct {
		// PaaslagProsent is the NS 8407 33-8 margin: a forsering notice is
		// only valid when the estimated cost stays within the daymulkt
		// value of the rejected days plus this percentage.
		PaaslagProsent int `yaml:"paaslag_prosent"`
	} `yaml:"forsering"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with ks init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Kontrakt.Standard != "" && c.Kontrakt.Standard != "NS8407" {
		return fmt.Errorf("config.kontrakt.standard must be NS8407")
	}
	if c.Kontrakt.DagmulktPerDag < 0 {
		return fmt.Errorf("config.kontrakt.dagmulkt_per_dag cannot be negative")
	}
	if c.Forsering.PaaslagProsent < 0 || c.Forsering.PaaslagProsent > 100 {
		return fmt.Errorf("config.forsering.paaslag_prosent must be between 0 and 100")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kravsak.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `kontrakt:
  standard: NS8407
  dagmulkt_per_dag: 15000

forsering:
  paaslag_prosent: 30

server:
  jwt_secret: ""
  allow_legacy_actor_header: true
`
