// Package cfg loads the autobase configuration.
//
// Settings are read from an optional TOML file and can be overwritten by
// GitHub Actions inputs, which the Actions runner passes as INPUT_<NAME>
// environment variables.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

const (
	DefLabel                     = "autobase"
	DefUpdateMethod              = UpdateMethodRebase
	DefRetryTimeout              = 2 * time.Minute
	DefLogFormat                 = "console"
	DefLogTimeKey                = "time_iso8601"
	DefLogLevel                  = "info"
	DefHTTPGithubWebhookEndpoint = "/listener/github"
	DefHTTPMetricsEndpoint       = "/metrics"
	DefFilterQuery               = "true"
)

const (
	UpdateMethodRebase = "rebase"
	UpdateMethodMerge  = "merge"
)

type Config struct {
	GithubAPIToken   string `toml:"github_api_token"`
	GithubAPIURL     string `toml:"github_api_url"`
	GithubGraphQLURL string `toml:"github_graphql_url"`

	Label             string `toml:"label"`
	RequiredApprovals int    `toml:"required_approvals"`
	BaseBranch        string `toml:"base_branch"`
	UpdateMethod      string `toml:"update_method"`
	DryRun            bool   `toml:"dry_run"`
	RetryTimeout      string `toml:"retry_timeout"`

	LogFormat  string `toml:"log_format"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level"`

	HTTPListenAddr            string             `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string             `toml:"https_server_listen_addr"`
	HTTPSCertFile             string             `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string             `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string             `toml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string             `toml:"metrics_endpoint"`
	GithubWebHookSecret       string             `toml:"github_webhook_secret"`
	FilterQuery               string             `toml:"filter_query"`
	Repositories              []GithubRepository `toml:"repository"`

	retryTimeout time.Duration
}

type GithubRepository struct {
	Owner          string `toml:"owner"`
	RepositoryName string `toml:"repository"`
}

func (r *GithubRepository) String() string {
	return r.Owner + "/" + r.RepositoryName
}

// Default returns a configuration with all default values set.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads a TOML configuration from reader.
// Settings that are not defined in the file are set to their default values.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.Label == "" {
		c.Label = DefLabel
	}

	if c.UpdateMethod == "" {
		c.UpdateMethod = DefUpdateMethod
	}

	if c.RetryTimeout == "" {
		c.RetryTimeout = DefRetryTimeout.String()
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.HTTPGithubWebhookEndpoint == "" {
		c.HTTPGithubWebhookEndpoint = DefHTTPGithubWebhookEndpoint
	}

	if c.HTTPMetricsEndpoint == "" {
		c.HTTPMetricsEndpoint = DefHTTPMetricsEndpoint
	}

	if c.FilterQuery == "" {
		c.FilterQuery = DefFilterQuery
	}
}

// LoadEnvFile sets the environment variables defined in the .env formatted
// file at path. Variables that are already set in the environment are not
// overwritten.
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// actionInputEnv returns the name of the environment variable in which the
// GitHub Actions runner passes the value of the input with the given name.
func actionInputEnv(name string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

// ApplyActionInputs overwrites settings with the GitHub Actions inputs
// that are set to a non-empty value.
// lookupEnv is usually os.LookupEnv.
func (c *Config) ApplyActionInputs(lookupEnv func(string) (string, bool)) error {
	input := func(name string) string {
		val, _ := lookupEnv(actionInputEnv(name))
		return strings.TrimSpace(val)
	}

	if v := input("github-token"); v != "" {
		c.GithubAPIToken = v
	}

	if v := input("label"); v != "" {
		c.Label = v
	}

	if v := input("required-approvals"); v != "" {
		approvals, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("input required-approvals: %q is not an integer", v)
		}

		c.RequiredApprovals = approvals
	}

	if v := input("base-branch"); v != "" {
		c.BaseBranch = v
	}

	if v := input("update-method"); v != "" {
		c.UpdateMethod = v
	}

	if v := input("dry-run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("input dry-run: %q is not a boolean", v)
		}

		c.DryRun = dryRun
	}

	return nil
}

// Validate returns an error if the configuration is incomplete or contains
// invalid values.
func (c *Config) Validate() error {
	if c.GithubAPIToken == "" {
		return errors.New("github api token is not set")
	}

	if c.RequiredApprovals < 0 {
		return fmt.Errorf("required approvals is %d, must be >=0", c.RequiredApprovals)
	}

	if c.Label == "" {
		return errors.New("label is empty")
	}

	switch c.UpdateMethod {
	case UpdateMethodRebase, UpdateMethodMerge:
	default:
		return fmt.Errorf("unsupported update method: %q, supported: %s, %s",
			c.UpdateMethod, UpdateMethodRebase, UpdateMethodMerge)
	}

	d, err := time.ParseDuration(c.RetryTimeout)
	if err != nil {
		return fmt.Errorf("retry timeout: %w", err)
	}

	if d < 0 {
		return fmt.Errorf("retry timeout is %s, must be >=0", d)
	}

	c.retryTimeout = d

	for _, repo := range c.Repositories {
		if repo.Owner == "" || repo.RepositoryName == "" {
			return fmt.Errorf("repository entry %q is incomplete, owner and repository must be set", repo.String())
		}
	}

	return nil
}

// RetryTimeoutDuration returns the parsed RetryTimeout.
// It is only set after Validate() was called successfully.
func (c *Config) RetryTimeoutDuration() time.Duration {
	return c.retryTimeout
}
