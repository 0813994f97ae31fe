package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowplane/flowplane/agent"
	"github.com/flowplane/flowplane/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("workspace", "./workspace", "comma separated list of workspace roots to scan")
	cmd.Flags().String("sqlite-path", "flowplane.db", "path to the sqlite database file")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "flowplane", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("queue-impl", "redis", "implementation of underline queue")
	cmd.Flags().String("logstore-impl", "redis", "implementation of the log stream store")
	cmd.Flags().Int("workers", 4, "worker pool size")
	cmd.Flags().Int("sync-timeout", 300, "seconds a sync dispatch waits before detaching")
	cmd.Flags().Int("exec-timeout", 600, "execution wall clock budget in seconds")
	cmd.Flags().Int("rescan-interval", 300, "seconds between periodic workspace rescans")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.WorkspaceRoots = strings.Split(viper.GetString("workspace"), ",")
	c.cfg.SqlitePath = viper.GetString("sqlite-path")
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.QueueType = config.QueueType(viper.GetString("queue-impl"))
	c.cfg.LogStoreType = config.QueueType(viper.GetString("logstore-impl"))
	c.cfg.WorkerCount = viper.GetInt("workers")
	c.cfg.SyncTimeoutSeconds = viper.GetInt("sync-timeout")
	c.cfg.ExecTimeoutSeconds = viper.GetInt("exec-timeout")
	c.cfg.RescanIntervalSeconds = viper.GetInt("rescan-interval")
	c.cfg.LogLevel = viper.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowplane",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
