package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds the configuration for the event publisher
type ServiceConfig struct {
	Server   ServerConfig   `yaml:"server"`
	OpenFGA  OpenFGAConfig  `yaml:"openfga"`
	Keycloak KeycloakConfig `yaml:"keycloak"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Filter   FilterConfig   `yaml:"filter"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// OpenFGAConfig holds OpenFGA connection configuration
type OpenFGAConfig struct {
	APIUrl               string        `yaml:"api_url"`
	StoreID              string        `yaml:"store_id"`
	AuthorizationModelID string        `yaml:"authorization_model_id"`
	ModelFile            string        `yaml:"model_file"`
	AuthMethod           string        `yaml:"auth_method"` // none, client_credentials, shared_secret
	ClientID             string        `yaml:"client_id"`
	ClientSecret         string        `yaml:"client_secret"`
	SharedSecret         string        `yaml:"shared_secret"`
	Audience             string        `yaml:"audience"`
	Issuer               string        `yaml:"issuer"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	DryRun               bool          `yaml:"dry_run"`
}

// KeycloakConfig holds the admin API access used to resolve role ids to names
type KeycloakConfig struct {
	URL           string            `yaml:"url"`
	TokenRealm    string            `yaml:"token_realm"`
	ClientID      string            `yaml:"client_id"`
	ClientSecret  string            `yaml:"client_secret"`
	Timeout       time.Duration     `yaml:"timeout"`
	RoleCacheSize int               `yaml:"role_cache_size"`
	Roles         map[string]string `yaml:"roles"` // role id -> role name
}

// WebhookConfig holds the HTTP intake signature settings
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	VerifySignature bool   `yaml:"verify_signature"`
}

// KafkaConfig holds the Kafka intake configuration
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	GroupID       string   `yaml:"group_id"`
	InitialOffset string   `yaml:"initial_offset"` // newest, oldest
	Version       string   `yaml:"version"`
}

// FilterConfig holds the conditions an admin event must satisfy to be published
type FilterConfig struct {
	Conditions []string `yaml:"conditions"`
}

// Default returns the configuration used when nothing else is provided
func Default() *ServiceConfig {
	return &ServiceConfig{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		OpenFGA: OpenFGAConfig{
			APIUrl:         "http://localhost:8080",
			AuthMethod:     "none",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    5 * time.Second,
		},
		Keycloak: KeycloakConfig{
			TokenRealm:    "master",
			Timeout:       5 * time.Second,
			RoleCacheSize: 1024,
		},
		Kafka: KafkaConfig{
			Topic:         "keycloak-admin-events",
			GroupID:       "keycloak-openfga-event-publisher",
			InitialOffset: "newest",
		},
	}
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *ServiceConfig) error {
	// Server config
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}

	// OpenFGA config
	if apiURL := os.Getenv("OPENFGA_API_URL"); apiURL != "" {
		cfg.OpenFGA.APIUrl = apiURL
	}
	if storeID := os.Getenv("OPENFGA_STORE_ID"); storeID != "" {
		cfg.OpenFGA.StoreID = storeID
	}
	if modelID := os.Getenv("OPENFGA_AUTHORIZATION_MODEL_ID"); modelID != "" {
		cfg.OpenFGA.AuthorizationModelID = modelID
	}
	if modelFile := os.Getenv("OPENFGA_MODEL_FILE"); modelFile != "" {
		cfg.OpenFGA.ModelFile = modelFile
	}
	if authMethod := os.Getenv("OPENFGA_AUTH_METHOD"); authMethod != "" {
		cfg.OpenFGA.AuthMethod = authMethod
	}
	if clientID := os.Getenv("OPENFGA_CLIENT_ID"); clientID != "" {
		cfg.OpenFGA.ClientID = clientID
	}
	if clientSecret := os.Getenv("OPENFGA_CLIENT_SECRET"); clientSecret != "" {
		cfg.OpenFGA.ClientSecret = clientSecret
	}
	if sharedSecret := os.Getenv("OPENFGA_SHARED_SECRET"); sharedSecret != "" {
		cfg.OpenFGA.SharedSecret = sharedSecret
	}
	if audience := os.Getenv("OPENFGA_AUDIENCE"); audience != "" {
		cfg.OpenFGA.Audience = audience
	}
	if issuer := os.Getenv("OPENFGA_ISSUER"); issuer != "" {
		cfg.OpenFGA.Issuer = issuer
	}
	if err := durationFromEnv("OPENFGA_CONNECT_TIMEOUT", &cfg.OpenFGA.ConnectTimeout); err != nil {
		return err
	}
	if err := durationFromEnv("OPENFGA_READ_TIMEOUT", &cfg.OpenFGA.ReadTimeout); err != nil {
		return err
	}
	if dryRun := os.Getenv("OPENFGA_DRY_RUN"); dryRun != "" {
		cfg.OpenFGA.DryRun = dryRun == "true"
	}

	// Keycloak config
	if url := os.Getenv("KEYCLOAK_URL"); url != "" {
		cfg.Keycloak.URL = url
	}
	if realm := os.Getenv("KEYCLOAK_TOKEN_REALM"); realm != "" {
		cfg.Keycloak.TokenRealm = realm
	}
	if clientID := os.Getenv("KEYCLOAK_CLIENT_ID"); clientID != "" {
		cfg.Keycloak.ClientID = clientID
	}
	if clientSecret := os.Getenv("KEYCLOAK_CLIENT_SECRET"); clientSecret != "" {
		cfg.Keycloak.ClientSecret = clientSecret
	}
	if err := durationFromEnv("KEYCLOAK_TIMEOUT", &cfg.Keycloak.Timeout); err != nil {
		return err
	}

	// Webhook config
	// a secret alone turns verification on; WEBHOOK_VERIFY_SIGNATURE still wins
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
		cfg.Webhook.VerifySignature = true
	}
	if verifySignature := os.Getenv("WEBHOOK_VERIFY_SIGNATURE"); verifySignature != "" {
		cfg.Webhook.VerifySignature = verifySignature != "false"
	}

	// Kafka config
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
		cfg.Kafka.Enabled = true
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}
	if groupID := os.Getenv("KAFKA_GROUP_ID"); groupID != "" {
		cfg.Kafka.GroupID = groupID
	}
	if offset := os.Getenv("KAFKA_INITIAL_OFFSET"); offset != "" {
		cfg.Kafka.InitialOffset = offset
	}

	return nil
}

func durationFromEnv(key string, target *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*target = d
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate reports every configuration problem found
func (c *ServiceConfig) Validate() error {
	var problems []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	if c.OpenFGA.APIUrl == "" {
		problems = append(problems, errors.New("openfga.api_url is required"))
	}
	switch c.OpenFGA.AuthMethod {
	case "none", "":
	case "client_credentials":
		if c.OpenFGA.ClientID == "" || c.OpenFGA.ClientSecret == "" {
			problems = append(problems, errors.New("openfga.client_id and openfga.client_secret are required for client_credentials auth"))
		}
		if c.OpenFGA.Issuer == "" {
			problems = append(problems, errors.New("openfga.issuer is required for client_credentials auth"))
		}
	case "shared_secret":
		if c.OpenFGA.SharedSecret == "" {
			problems = append(problems, errors.New("openfga.shared_secret is required for shared_secret auth"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported openfga.auth_method: %s", c.OpenFGA.AuthMethod))
	}
	if (c.OpenFGA.StoreID == "") != (c.OpenFGA.AuthorizationModelID == "") {
		problems = append(problems, errors.New("openfga.store_id and openfga.authorization_model_id must be set together"))
	}
	if c.OpenFGA.ModelFile != "" && c.OpenFGA.StoreID == "" {
		problems = append(problems, errors.New("openfga.model_file requires openfga.store_id and openfga.authorization_model_id"))
	}
	if c.OpenFGA.ConnectTimeout <= 0 || c.OpenFGA.ReadTimeout <= 0 {
		problems = append(problems, errors.New("openfga timeouts must be positive"))
	}

	if c.Webhook.VerifySignature && c.Webhook.Secret == "" {
		problems = append(problems, errors.New("webhook.secret is required when webhook.verify_signature is enabled"))
	}

	if c.Keycloak.URL != "" && (c.Keycloak.ClientID == "" || c.Keycloak.ClientSecret == "") {
		problems = append(problems, errors.New("keycloak.client_id and keycloak.client_secret are required with keycloak.url"))
	}
	if c.Keycloak.RoleCacheSize < 0 {
		problems = append(problems, errors.New("keycloak.role_cache_size cannot be negative"))
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			problems = append(problems, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if c.Kafka.Topic == "" || c.Kafka.GroupID == "" {
			problems = append(problems, errors.New("kafka.topic and kafka.group_id are required when kafka is enabled"))
		}
		if c.Kafka.InitialOffset != "newest" && c.Kafka.InitialOffset != "oldest" {
			problems = append(problems, fmt.Errorf("unsupported kafka.initial_offset: %s", c.Kafka.InitialOffset))
		}
	}

	return errors.Join(problems...)
}
