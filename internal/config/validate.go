package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateScheduled(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		return errors.New("paths.download_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.MinFreeDiskGiB < 0 {
		return errors.New("pipeline.min_free_disk_gib must not be negative")
	}
	return nil
}

func (c *Config) validateScheduled() error {
	for i, entry := range c.Scheduled {
		if strings.TrimSpace(entry.Schedule) == "" {
			return fmt.Errorf("scheduled[%d].schedule must be set", i)
		}
		if strings.TrimSpace(entry.Type) == "" {
			return fmt.Errorf("scheduled[%d].type must be set", i)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
