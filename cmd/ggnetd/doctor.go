package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/bootsteer"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/dhcp"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/iscsi"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/tftp"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run the control plane",
	Long: `Run preflight checks against the local configuration:

  - data directory and image root writable
  - targetcli responds
  - DHCP configuration parseable
  - TFTP root writable, and the daemon serves boot.ipxe when
    tftp.probe_addr is configured

Run it on the boot server host, with the same --config the server uses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		failed := 0
		check := func(name string, fn func() (string, error)) {
			detail, err := fn()
			if err != nil {
				failed++
				fmt.Printf("✗ %s: %v\n", name, err)
				return
			}
			fmt.Printf("✓ %s: %s\n", name, detail)
		}

		check("data directory", func() (string, error) {
			if err := probeWritable(cfg.DataDir); err != nil {
				return "", err
			}
			dbPath := filepath.Join(cfg.DataDir, storage.DBFileName)
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				return fmt.Sprintf("%s writable (store not initialized yet)", cfg.DataDir), nil
			}
			return fmt.Sprintf("%s writable, store present", cfg.DataDir), nil
		})

		check("image root", func() (string, error) {
			if err := probeWritable(cfg.Images.Root); err != nil {
				return "", err
			}
			return cfg.Images.Root + " writable", nil
		})

		check("targetcli", func() (string, error) {
			// A read-only listing proves the binary runs and the
			// kernel target subsystem answers.
			if _, _, err := iscsi.NewTargetCLI(cfg.ISCSI).BackstorePath(ctx, "doctor-probe"); err != nil {
				return "", err
			}
			return cfg.ISCSI.TargetCLIPath + " responds", nil
		})

		check("dhcp config", func() (string, error) {
			boot := bootsteer.New(cfg.Boot.Loaders, cfg.Boot.DefaultLoader)
			reloader, err := dhcp.NewReloader(cfg.DHCP)
			if err != nil {
				return "", err
			}
			adapter, err := dhcp.NewAdapter(cfg.DHCP.ConfigPath, cfg.DHCP.NextServer, boot.Snippet(), reloader)
			if err != nil {
				return "", err
			}
			reservations, err := adapter.Reservations()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s parseable, %d reservation(s)", cfg.DHCP.ConfigPath, len(reservations)), nil
		})

		check("tftp root", func() (string, error) {
			if err := probeWritable(cfg.TFTP.Root); err != nil {
				return "", err
			}
			return cfg.TFTP.Root + " writable", nil
		})

		if cfg.TFTP.ProbeAddr != "" {
			check("tftp daemon", func() (string, error) {
				if err := tftp.Probe(ctx, cfg.TFTP.ProbeAddr); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s serves %s", cfg.TFTP.ProbeAddr, tftp.GenericScriptName), nil
			})
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		fmt.Println()
		fmt.Println("All checks passed.")
		return nil
	},
}

// probeWritable proves dir accepts writes by creating and removing a
// marker file.
func probeWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("not configured")
	}
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe := filepath.Join(dir, ".ggnet-doctor")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func init() {
	doctorCmd.Flags().String("config", "", "Path to ggnetd.yaml (built-in defaults when unset)")
}
