package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBind() string {
	if bind := flagValue(c.apiFlag); bind != "" {
		return bind
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) apiToken() string {
	if token := flagValue(c.tokenFlag); token != "" {
		return token
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Paths.APIToken
	}
	return ""
}

// withClient runs fn against the daemon API and rewrites connection failures
// into an actionable message.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	bind := c.apiBind()
	client, err := api.NewClient(bind, c.apiToken())
	if err != nil {
		return wrapAPIError(err, bind)
	}
	return wrapAPIError(fn(client), bind)
}

// errDaemonUnreachable marks commands that needed the local API and found no
// daemon behind it.
var errDaemonUnreachable = errors.New("connect to daemon")

func wrapAPIError(err error, bind string) error {
	if err == nil {
		return nil
	}
	if !api.IsAPIUnavailable(err) {
		return err
	}
	if strings.TrimSpace(bind) == "" {
		return fmt.Errorf("%w: paths.api_bind is empty; enable the local API or pass --api", errDaemonUnreachable)
	}
	return fmt.Errorf("%w: nothing answered at %s; start it with `fieldsync daemon`", errDaemonUnreachable, bind)
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
