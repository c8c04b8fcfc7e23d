package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/api"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/client"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/config"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/dhcp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/images"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/manager"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ggnetd",
	Short: "GGnet - diskless network boot control plane",
	Long: `GGnet turns a fleet of diskless machines into iSCSI-booted clients.

The server subcommand runs the control plane: it manages disk images,
machine inventory and boot sessions, and drives targetcli, the DHCP
daemon and the TFTP boot-script area. All other subcommands are clients
of a running server.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"GGnet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	api.Version = Version

	rootCmd.PersistentFlags().String("server", envOr("GGNET_SERVER", "http://localhost:8080"), "GGnet server URL (env GGNET_SERVER)")
	rootCmd.PersistentFlags().String("token", os.Getenv("GGNET_TOKEN"), "API token (env GGNET_TOKEN)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(machineCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(doctorCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds a client from the persistent --server/--token flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.New(server, client.WithToken(token))
}

// loadConfig reads --config when given, otherwise uses built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the GGnet control plane",
	Long: `Run the GGnet control plane server.

Startup order: open the store, reconcile persisted state with the
daemons, then serve the API. Interrupted sessions are rolled back or
finished before the first request is accepted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// A TTY gets the console writer; JSON is for journald and files.
		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON && !term.IsTerminal(int(os.Stdout.Fd())),
		})

		fmt.Printf("Starting GGnet %s\n", Version)
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  Image Root: %s\n", cfg.Images.Root)
		fmt.Printf("  API Address: %s\n", cfg.ListenAddr)
		fmt.Println()

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %v", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %v", err)
		}
		fmt.Println("✓ Store opened")

		broker := events.NewBroker()
		broker.Start()

		reloader, err := dhcp.NewReloader(cfg.DHCP)
		if err != nil {
			store.Close()
			return fmt.Errorf("dhcp reloader: %v", err)
		}

		mgr, err := manager.New(cfg, manager.Deps{
			Store:     store,
			Broker:    broker,
			ISCSI:     iscsi.NewTargetCLI(cfg.ISCSI),
			Reloader:  reloader,
			Converter: images.NewQemuImg(cfg.Images.QemuImgPath),
		})
		if err != nil {
			broker.Stop()
			store.Close()
			return fmt.Errorf("create manager: %v", err)
		}
		if err := mgr.Start(); err != nil {
			broker.Stop()
			store.Close()
			return fmt.Errorf("start manager: %v", err)
		}
		fmt.Println("✓ Control plane started")

		if err := mgr.EnsureBootstrapUser(); err != nil {
			mgr.Stop()
			broker.Stop()
			store.Close()
			return fmt.Errorf("bootstrap user: %v", err)
		}

		if err := mgr.Recover(context.Background()); err != nil {
			mgr.Stop()
			broker.Stop()
			store.Close()
			return fmt.Errorf("recovery: %v", err)
		}
		fmt.Println("✓ Recovery done")

		apiServer := api.NewServer(mgr, broker)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()

		fmt.Println()
		fmt.Printf("Server is running on %s. Press Ctrl+C to stop.\n", cfg.ListenAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		// In-flight requests get a grace period; then workers, broker
		// and store go down in dependency order.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
		}
		mgr.Stop()
		broker.Stop()
		if err := store.Close(); err != nil {
			return fmt.Errorf("close store: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to ggnetd.yaml (built-in defaults when unset)")
}
