package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage boot sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start MACHINE-ID",
	Short: "Boot a machine from an image",
	Long: `Start a boot session: provision an iSCSI target for the machine,
write its boot script and DHCP reservation, and wait until the boot
chain is ready. The machine picks it up on next PXE boot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imageID, _ := cmd.Flags().GetString("image")

		fmt.Printf("Provisioning boot chain for machine %s...\n", args[0])
		sess, err := apiClient(cmd).StartSession(args[0], imageID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Session %s is %s\n", sess.ID, sess.Status)
		return nil
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop SESSION-ID",
	Short: "Stop a session and tear down its boot chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		sess, err := apiClient(cmd).StopSession(args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Session %s is %s (%s)\n", sess.ID, sess.Status, sess.EndReason)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		sessions, err := apiClient(cmd).ListSessions()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMACHINE\tIMAGE\tSTATUS\tSTARTED\tEND REASON")
		for _, s := range sessions {
			if !all && s.Status.Terminal() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.MachineID, s.ImageID, s.Status,
				humanize.Time(s.StartedAt), s.EndReason)
		}
		return w.Flush()
	},
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionStopCmd)
	sessionCmd.AddCommand(sessionListCmd)

	sessionStartCmd.Flags().String("image", "", "Image ID to boot from (required)")
	_ = sessionStartCmd.MarkFlagRequired("image")
	sessionStopCmd.Flags().String("reason", "", "Reason recorded on the session")
	sessionListCmd.Flags().BoolP("all", "a", false, "Include terminal sessions")
}
