package app

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/httpx"
)

// Main is the entry point of the seotool binary.
func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	cfg        config.Config
}

func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "seotool",
		Short: "Batch LLM pipeline for SEO keyword lists",
		Long: `seotool cleans, maps, clusters and briefs keyword lists for a client
using an LLM in resumable batches.

Results are checkpointed after every batch; rerunning an interrupted job
continues where it stopped.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.configPath != "" {
				os.Setenv("CONFIG_PATH", c.configPath)
			}
			c.cfg = config.LoadConfig()
			applied := httpx.ConfigureExternalHTTPClient(c.cfg.ExternalHTTPTimeoutSeconds)
			log.Printf("Config loaded. Provider=%s Model=%s BatchSize=%d QC=%t QCThreshold=%d Store=%s Timezone=%s ExternalHTTPTimeout=%s",
				c.cfg.LLMProvider,
				c.cfg.LLMModel,
				c.cfg.LLMBatchSize,
				c.cfg.QCOn(),
				c.cfg.QCFlagThreshold,
				c.cfg.StoreDriver,
				c.cfg.Timezone,
				applied,
			)
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default config.yaml or CONFIG_PATH)")

	root.AddCommand(
		c.estimateCmd(),
		c.jobCmd(jobCommand{use: "classify", short: "Label keywords KEEP, REMOVE or UNSURE", jobType: "classification", needsKeywords: true}),
		c.jobCmd(jobCommand{use: "map", short: "Map keywords to existing URLs or new content", jobType: "mapping", needsKeywords: true}),
		c.jobCmd(jobCommand{use: "cluster", short: "Cluster mapped keywords that need new content", jobType: "clusters"}),
		c.jobCmd(jobCommand{use: "briefs", short: "Cluster mapped keywords and write a content brief per cluster", jobType: "briefs"}),
		c.enqueueCmd(),
		c.jobsCmd(),
		c.serveCmd(),
		c.profileCmd(),
		c.checkpointCmd(),
		c.usageCmd(),
		c.semrushCmd(),
	)
	return root
}
