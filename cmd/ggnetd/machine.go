package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Manage the machine inventory",
}

var machineAddCmd = &cobra.Command{
	Use:   "add HOSTNAME MAC",
	Short: "Register a machine",
	Long: `Register a machine by hostname and MAC address.

The MAC may use any common notation (aa:bb:cc:dd:ee:ff, AA-BB-CC-DD-EE-FF,
aabb.ccdd.eeff). New machines default to UEFI boot and ACTIVE status.

Examples:
  ggnetd machine add gaming-pc-01 aa:bb:cc:dd:ee:ff
  ggnetd machine add kiosk-3 00-11-22-33-44-55 --ip 192.168.1.53 --boot-mode bios`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, _ := cmd.Flags().GetString("ip")
		bootMode, _ := cmd.Flags().GetString("boot-mode")

		machine, err := apiClient(cmd).CreateMachine(&types.Machine{
			Hostname:   args[0],
			MACAddress: args[1],
			IPAddress:  ip,
			BootMode:   types.BootMode(strings.ToUpper(bootMode)),
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Machine %s registered (ID: %s, MAC: %s)\n",
			machine.Hostname, machine.ID, machine.MACAddress)
		return nil
	},
}

var machineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines",
	RunE: func(cmd *cobra.Command, args []string) error {
		machines, err := apiClient(cmd).ListMachines()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOSTNAME\tMAC\tSTATUS\tBOOT\tLAST SEEN")
		for _, m := range machines {
			lastSeen := "never"
			if !m.LastSeen.IsZero() {
				lastSeen = humanize.Time(m.LastSeen)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Hostname, m.MACAddress, m.Status, m.BootMode, lastSeen)
		}
		return w.Flush()
	},
}

var machineRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a machine",
	Long:  "Remove a machine from the inventory. Refused while it has a live session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteMachine(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Machine %s removed\n", args[0])
		return nil
	},
}

var machineBootScriptCmd = &cobra.Command{
	Use:   "boot-script ID",
	Short: "Print the machine's current iPXE script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := apiClient(cmd).BootScript(args[0])
		if err != nil {
			return err
		}
		fmt.Print(script)
		return nil
	},
}

func init() {
	machineCmd.AddCommand(machineAddCmd)
	machineCmd.AddCommand(machineListCmd)
	machineCmd.AddCommand(machineRemoveCmd)
	machineCmd.AddCommand(machineBootScriptCmd)

	machineAddCmd.Flags().String("ip", "", "Static IP to reserve for the machine")
	machineAddCmd.Flags().String("boot-mode", "", "Boot mode: uefi (default), bios or uefi_secureboot")
}
