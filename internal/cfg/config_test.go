package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`github_api_token = "abc"`))
	require.NoError(t, err)

	assert.Equal(t, "abc", config.GithubAPIToken)
	assert.Equal(t, DefLabel, config.Label)
	assert.Equal(t, 0, config.RequiredApprovals)
	assert.Equal(t, "", config.BaseBranch)
	assert.Equal(t, UpdateMethodRebase, config.UpdateMethod)
	assert.Equal(t, DefFilterQuery, config.FilterQuery)

	require.NoError(t, config.Validate())
	assert.Equal(t, DefRetryTimeout, config.RetryTimeoutDuration())
}

func TestLoadServerConfig(t *testing.T) {
	const data = `
github_api_token = "abc"
label = "queue"
required_approvals = 2
base_branch = "develop"
retry_timeout = "30s"
http_server_listen_addr = ":8085"
github_webhook_secret = "secret"
filter_query = '.sender.login != "dependabot[bot]"'

[[repository]]
owner = "simplesurance"
repository = "autobase"
`

	config, err := Load(strings.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "queue", config.Label)
	assert.Equal(t, 2, config.RequiredApprovals)
	assert.Equal(t, "develop", config.BaseBranch)
	assert.Equal(t, 30*time.Second, config.RetryTimeoutDuration())
	assert.Equal(t, ":8085", config.HTTPListenAddr)
	assert.Equal(t, DefHTTPGithubWebhookEndpoint, config.HTTPGithubWebhookEndpoint)
	require.Len(t, config.Repositories, 1)
	assert.Equal(t, "simplesurance/autobase", config.Repositories[0].String())
}

func TestApplyActionInputs(t *testing.T) {
	config := Default()

	err := config.ApplyActionInputs(envMap(map[string]string{
		"INPUT_GITHUB-TOKEN":       "tok",
		"INPUT_LABEL":              "",
		"INPUT_REQUIRED-APPROVALS": "1",
		"INPUT_BASE-BRANCH":        "main",
		"INPUT_DRY-RUN":            "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "tok", config.GithubAPIToken)
	assert.Equal(t, DefLabel, config.Label, "empty input must not overwrite the default")
	assert.Equal(t, 1, config.RequiredApprovals)
	assert.Equal(t, "main", config.BaseBranch)
	assert.True(t, config.DryRun)
}

func TestApplyActionInputsInvalidApprovals(t *testing.T) {
	config := Default()

	err := config.ApplyActionInputs(envMap(map[string]string{
		"INPUT_REQUIRED-APPROVALS": "two",
	}))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	testcases := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "missingToken", modify: func(c *Config) { c.GithubAPIToken = "" }},
		{name: "negativeApprovals", modify: func(c *Config) { c.RequiredApprovals = -1 }},
		{name: "unsupportedUpdateMethod", modify: func(c *Config) { c.UpdateMethod = "squash" }},
		{name: "invalidRetryTimeout", modify: func(c *Config) { c.RetryTimeout = "soon" }},
		{name: "incompleteRepository", modify: func(c *Config) {
			c.Repositories = []GithubRepository{{Owner: "simplesurance"}}
		}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			config.GithubAPIToken = "tok"
			require.NoError(t, config.Validate())

			tc.modify(config)
			assert.Error(t, config.Validate())
		})
	}
}
