package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postscan/pkg/cache"
	"postscan/pkg/config"
	"postscan/pkg/logger"
)

// cacheCmd groups cache maintenance commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the image cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and entry count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		count, size, err := c.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Cache at %s: %d files, %.1f MB\n", c.Dir(), count, float64(size)/(1024*1024))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		if err := c.Clear(); err != nil {
			return err
		}
		fmt.Printf("Cache at %s cleared.\n", c.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "image cache directory")
}

func openCache() (*cache.Cache, error) {
	cfg, err := config.Load(configFile, map[string]interface{}{
		"cache-dir": cacheDir,
		"log-level": "error",
	})
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cache.New(cfg.Images.CacheDir, logger.GetLogger())
}
