package cli

import (
	"os"

	"github.com/arnavsurve/stepwright/pkg/engine"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/arnavsurve/stepwright/pkg/lifecycle"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/arnavsurve/stepwright/pkg/vars"
)

// Config is the process environment the CLI runs with.
type Config struct {
	ServerURL    string
	APIKey       string
	InferenceURL string
	VaultFile    string
	Deployment   string
	SaveDir      string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the STEPWRIGHT_* variables. Call it after godotenv has
// loaded any .env file.
func LoadConfig() Config {
	return Config{
		ServerURL:    getenv("STEPWRIGHT_SERVER_URL", lifecycle.DefaultServerURL),
		APIKey:       os.Getenv("STEPWRIGHT_API_KEY"),
		InferenceURL: os.Getenv("STEPWRIGHT_INFERENCE_URL"),
		VaultFile:    os.Getenv("STEPWRIGHT_VAULT_FILE"),
		Deployment:   getenv("STEPWRIGHT_DEPLOYMENT", "prod"),
		SaveDir:      getenv("STEPWRIGHT_SAVE_DIR", engine.DefaultSaveDirectory),
	}
}

// Reporter talks to the task server when an API key is configured and
// discards lifecycle calls otherwise.
func (c Config) Reporter(logger types.Logger) lifecycle.Reporter {
	if c.APIKey == "" {
		logger.Warn().Msg("STEPWRIGHT_API_KEY is not set, task lifecycle will not be reported")
		return lifecycle.Discard{}
	}
	return lifecycle.NewClient(c.ServerURL, c.APIKey, logger)
}

// Collaborators wires every inference role to one client. Without an
// inference URL the run has no model fallbacks.
func (c Config) Collaborators(logger types.Logger, m *metrics.Collector) engine.Collaborators {
	if c.InferenceURL == "" {
		logger.Warn().Msg("STEPWRIGHT_INFERENCE_URL is not set, running without model fallbacks")
		return engine.Collaborators{}
	}
	client := inference.NewClient(c.InferenceURL, c.APIKey, m)
	return engine.Collaborators{
		Predictor:  client,
		Classifier: client,
		Matcher:    client,
		Navigator:  client,
		Extractor:  client,
		Asserter:   client,
		TwoFA:      client,
	}
}

// Vault opens the vault file, if one is configured.
func (c Config) Vault() (vars.Vault, error) {
	if c.VaultFile == "" {
		return nil, nil
	}
	return vars.LoadFileVault(c.VaultFile)
}
