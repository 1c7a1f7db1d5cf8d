package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"flowscribe/internal/api"
	"flowscribe/internal/config"
	"flowscribe/internal/preflight"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// daemonClient returns an API client when a daemon holds the instance lock.
func (c *commandContext) daemonClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	probe := preflight.ProbeDaemon(cfg)
	if probe.Err != nil {
		return nil, probe.Err
	}
	if !probe.Running {
		return nil, errDaemonNotRunning
	}
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return nil, fmt.Errorf("daemon is running but paths.api_bind is empty")
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken), nil
}

var errDaemonNotRunning = errors.New("daemon is not running; start it with `flowscribe serve`")

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
