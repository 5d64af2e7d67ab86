package main

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bnema/arpipe/config"
	"github.com/bnema/arpipe/internal/infrastructure/logger"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// logOut receives log output; commands that print results keep it off
	// stdout.
	logOut io.Writer
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		logOut:     os.Stderr,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() zerolog.Logger {
	cfg, _ := c.ensureConfig()
	appEnv, level := "production", ""
	if cfg != nil {
		appEnv, level = cfg.Server.AppEnv, cfg.Server.LogLevel
	}
	console := false
	if f, ok := c.logOut.(*os.File); ok {
		console = isatty.IsTerminal(f.Fd())
	}
	return logger.NewWithWriter(c.logOut, appEnv, level, console)
}

// withApp opens the application graph for the duration of fn.
func (c *commandContext) withApp(fn func(*app) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, c.logger())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
