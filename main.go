package main

import (
	"os"
	"os/signal"
	"path/filepath"

	"github.com/MaaXYZ/maa-framework-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LinkesAuge/Bot-worldscan-sub000/worldnav"
)

var (
	logLevel   = "info"
	logDir     = "debug"
	configPath = ""
	libDir     = ""
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	var closeLog func()

	cmd := &cobra.Command{
		Use:   "worldscan <identifier>",
		Short: "worldscan is a MaaFramework agent that searches the world map for templates",
		Long: `worldscan is a MaaFramework agent service. It calibrates the map scale from
the coordinate readout, then pans the map in a search pattern until one of
the requested templates shows up.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			c, err := initLogger(logDir, logLevel)
			if err != nil {
				return err
			}
			closeLog = c
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			defer closeLog()
			return serve(args[0])
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (trace, debug, info, warn, error)")
	flags.StringVar(&logDir, "log-dir", logDir, "directory of the rotating log file")
	flags.StringVar(&configPath, "config", configPath, "config file path (default: <data dir>/worldscan.json)")
	flags.StringVar(&libDir, "lib-dir", libDir, "MaaFramework library directory (default: ./maafw)")

	cmd.AddCommand(NewVersionCommand())
	return cmd
}

func serve(identifier string) error {
	log.Info().Str("version", Version).Str("identifier", identifier).Msg("WorldScan Agent Service")

	dir := libDir
	if dir == "" {
		dir = filepath.Join(getCwd(), "maafw")
	}
	// 必须先初始化 MAA，之后才能调用其他接口
	if err := maa.Init(maa.WithLibDir(dir)); err != nil {
		log.Error().Err(err).Str("libDir", dir).Msg("Failed to initialize MAA framework")
		return err
	}
	defer maa.Release()

	if configPath != "" {
		worldnav.SetConfigPath(configPath)
	}
	registerAll()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, shutdownSignals...)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received signal, initiating shutdown")
		maa.AgentServerShutDown()
	}()

	if err := maa.AgentServerStartUp(identifier); err != nil {
		log.Error().Msg("Failed to start agent server")
		return errStartUp
	}
	log.Info().Msg("Agent server started")

	maa.AgentServerJoin()

	// 可重复调用，信号处理中可能已经关闭
	maa.AgentServerShutDown()
	log.Info().Msg("Agent server shutdown complete")
	return nil
}

func getCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
