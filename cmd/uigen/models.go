package main

import (
	"context"
	"fmt"
	"time"

	"uigen/pkg/ai"

	"github.com/spf13/cobra"
)

const modelCacheMaxAge = 24 * time.Hour

var modelsRefresh bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the configured upstream",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsRefresh, "refresh", false, "Ignore the cached list and query the upstream")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cachePath := ai.DefaultModelCachePath()
	cache, err := ai.LoadModelCache(cachePath)
	if modelsRefresh || err != nil || !cache.Fresh(cfg.Upstream.APIURL, modelCacheMaxAge, time.Now()) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		cache, err = ai.RefreshModelCache(ctx, cfg.Upstream, nil, cachePath)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, m := range cache.Models {
		marker := " "
		if m.ID == cfg.Upstream.Model {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, m.ID)
	}
	return nil
}
