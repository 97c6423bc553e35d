package main

import (
	"fmt"
	"strings"
	"sync"

	"skimmer/internal/api"
	"skimmer/internal/config"
)

type commandContext struct {
	configFlag *string
	bindFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, bindFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		bindFlag:   bindFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiClient builds a client for the daemon API, preferring the --api flag
// over the configured bind address.
func (c *commandContext) apiClient() (*api.Client, error) {
	bind := ""
	if c.bindFlag != nil {
		bind = strings.TrimSpace(*c.bindFlag)
	}
	if bind == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		bind = cfg.Paths.APIBind
	}
	client, err := api.NewClient(bind)
	if err != nil {
		return nil, fmt.Errorf("daemon API address: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("daemon API is disabled; set paths.api_bind or pass --api")
	}
	return client, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
