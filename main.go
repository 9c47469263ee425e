package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		memoryMB   int
		jvmFlags   string
		javaPath   string
		bridge     bool
		channelID  string
	)

	cmd := &cobra.Command{
		Use:   "mc-bridge [server-jar]",
		Short: "Run a Minecraft server and bridge its chat to Discord",
		Long: `mc-bridge launches a Minecraft server as a child process, restarts it
when it crashes, and relays chat, joins and leaves between the game
and a Discord channel. Lines typed into the terminal go to the server
console; "!mc list" is answered by the wrapper itself.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if len(args) == 1 {
				cfg.Server.Jar = args[0]
			}
			if flags.Changed("memory") {
				cfg.Server.MemoryMB = memoryMB
			}
			if flags.Changed("jvm-flags") {
				cfg.Server.JVMFlags = strings.Fields(jvmFlags)
			}
			if flags.Changed("java") {
				cfg.Server.Java = javaPath
			}
			if flags.Changed("bridge-to-discord") {
				cfg.Discord.Enabled = bridge
			}
			if flags.Changed("discord-channel-id") {
				cfg.Discord.ChannelID = channelID
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or "+defaultConfigPath+")")
	flags.IntVarP(&memoryMB, "memory", "m", 0, "server heap size in MB")
	flags.StringVar(&jvmFlags, "jvm-flags", "", "extra JVM flags, space separated")
	flags.StringVar(&javaPath, "java", "", "java executable")
	flags.BoolVarP(&bridge, "bridge-to-discord", "b", false, "relay chat to Discord (needs DISCORD_TOKEN)")
	flags.StringVar(&channelID, "discord-channel-id", "", "Discord channel to bridge")

	return cmd
}

func run(ctx context.Context, cfg Config) error {
	// 1. Roster + telemetry
	roster := NewRoster()
	telemetry, err := NewTelemetry(ctx, cfg.OTel, roster)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	// 2. Server process
	supervisor := NewSupervisor(cfg.serverConfig(), cfg.restartPolicy(), telemetry)

	// 3. Discord gateway (optional)
	var gateway Gateway
	var discord *DiscordGateway
	if cfg.Discord.Enabled {
		discord, err = NewDiscordGateway(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			return err
		}
		gateway = discord
		defer discord.Close()
	}

	// 4. Router
	local := make(chan RawLine, 16)
	router := NewRouter(RouterConfig{
		CommandPrefix:    cfg.Discord.CommandPrefix,
		ReconnectInitial: cfg.Discord.ReconnectInitial,
		ReconnectMax:     cfg.Discord.ReconnectMax,
	}, RouterDeps{
		Roster:      roster,
		Server:      supervisor,
		Gateway:     gateway,
		Console:     NewConsolePrinter(os.Stdout, cfg.Console.Color),
		Metrics:     telemetry,
		Lines:       supervisor.Lines(),
		Transitions: supervisor.Transitions(),
		Local:       local,
	})
	router.Subscribe(telemetry)

	g, gctx := errgroup.WithContext(ctx)
	// Everything else keeps running while the server shuts down, so its final
	// state still reaches the chat, and winds down once the server is gone.
	runCtx, stopAll := context.WithCancel(context.WithoutCancel(gctx))
	defer stopAll()

	g.Go(func() error {
		defer stopAll()
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		return router.Run(runCtx)
	})

	// Stdin is never closed under us, so this reader is not part of the group.
	go func() {
		defer close(local)
		if err := NewLineReader(os.Stdin, StreamStdin).Run(runCtx, local); err != nil {
			log.Printf("read console input: %v", err)
		}
	}()

	// 5. Presence and channel topic (optional)
	if gateway != nil && (cfg.Presence.Enabled || cfg.Presence.ChannelTopic) {
		var target PresenceUpdater
		if cfg.Presence.Enabled {
			target = gateway
		}
		presence := NewPresencePublisher(target, roster, func() bool { return supervisor.State().Running() }, cfg.Presence.Interval)
		if cfg.Presence.ChannelTopic {
			presence.WithTopic(gateway)
		}
		g.Go(func() error {
			presence.Run(runCtx)
			return nil
		})
	}

	// 6. RCON roster audit (optional)
	if cfg.RCON.Enabled {
		client := NewRCONClient(cfg.RCON.Host, cfg.RCON.Port, cfg.RCON.Password, 5*time.Second)
		defer client.Close()
		auditor := NewRosterAuditor(client, roster, func() bool { return supervisor.State().Running() }, cfg.RCON.ProbeInterval)
		g.Go(func() error {
			auditor.Run(runCtx)
			return nil
		})
	}

	log.Printf("mc-bridge started (jar=%s, discord=%v, rcon=%v, otel=%v)",
		cfg.Server.Jar, cfg.Discord.Enabled, cfg.RCON.Enabled, cfg.OTel.Enabled)

	err = g.Wait()
	log.Println("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
