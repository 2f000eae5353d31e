package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"videos2pdf/internal/config"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/sampler"
	"videos2pdf/internal/session"
	"videos2pdf/internal/store"
	"videos2pdf/internal/textutil"
)

type commandContext struct {
	configFlag string
	jsonFlag   bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// decoder and prober replace ffmpeg and ffprobe when set.
	decoder sampler.Decoder
	prober  session.Prober
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
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

// JSONMode reports whether --json was given.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// withManager opens the store and a session manager holding the workspace
// lock. The manager's startup sweep runs before fn.
func (c *commandContext) withManager(cmd *cobra.Command, fn func(*session.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return err
	}
	return c.withStore(func(st *store.Store) error {
		mgr, err := session.NewManager(cfg, session.Options{
			Store:   st,
			Decoder: c.decoder,
			Prober:  c.prober,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		if err := mgr.Open(cmd.Context()); err != nil {
			return err
		}
		defer mgr.Close()
		return fn(mgr)
	})
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
	return textutil.Ternary(value, "yes", "no")
}
