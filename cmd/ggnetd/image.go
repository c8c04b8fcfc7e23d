package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage boot images",
}

var imageUploadCmd = &cobra.Command{
	Use:   "upload NAME",
	Short: "Upload a disk image",
	Long: `Upload a disk image to the server.

The format is inferred from the file extension unless --format is given.
Non-RAW formats are converted server-side after the upload completes.

Examples:
  # Upload a raw image
  ggnetd image upload win11-base -f /srv/masters/win11.raw

  # Upload a VHDX and wait for the conversion to finish
  ggnetd image upload win11-base -f /srv/masters/win11.vhdx --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		format, _ := cmd.Flags().GetString("format")
		wait, _ := cmd.Flags().GetBool("wait")

		info, err := os.Stat(file)
		if err != nil {
			return fmt.Errorf("cannot read %s: %v", file, err)
		}

		c := apiClient(cmd)
		bar := progressbar.DefaultBytes(info.Size(), "uploading")
		img, err := c.UploadImage(args[0], file, format, func(sent, total int64) {
			_ = bar.Set64(sent)
		})
		_ = bar.Finish()
		fmt.Println()
		if err != nil {
			return fmt.Errorf("upload failed: %v", err)
		}

		if img.Status == types.ImageStatusProcessing {
			fmt.Printf("Upload complete, converting %s to raw...\n", img.Format)
			if wait {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
				defer cancel()
				img, err = c.WaitImageReady(ctx, img.ID, 2*time.Second)
				if err != nil {
					return fmt.Errorf("conversion failed: %v", err)
				}
			} else {
				fmt.Printf("✓ Image %s uploaded (ID: %s); check status with 'ggnetd image list'\n", img.Name, img.ID)
				return nil
			}
		}

		fmt.Printf("✓ Image %s ready (ID: %s, %s, sha256 %s)\n",
			img.Name, img.ID, humanize.IBytes(uint64(img.SizeBytes)), img.Checksum)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List images",
	RunE: func(cmd *cobra.Command, args []string) error {
		images, err := apiClient(cmd).ListImages()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFORMAT\tSIZE\tSTATUS\tCREATED")
		for _, img := range images {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				img.ID, img.Name, img.Format,
				humanize.IBytes(uint64(img.SizeBytes)),
				img.Status, humanize.Time(img.CreatedAt))
		}
		return w.Flush()
	},
}

var imageArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive an image and delete its bytes",
	Long: `Archive an image.

The record survives with its checksum for audit; the image bytes are
deleted. Refused while any machine still boots from the image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := apiClient(cmd).ArchiveImage(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Image %s archived\n", img.Name)
		return nil
	},
}

func init() {
	imageCmd.AddCommand(imageUploadCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageArchiveCmd)

	imageUploadCmd.Flags().StringP("file", "f", "", "Path to the image file (required)")
	imageUploadCmd.Flags().String("format", "", "Image format (raw, vhd, vhdx, qcow2, vmdk); inferred from extension when unset")
	imageUploadCmd.Flags().Bool("wait", false, "Wait for server-side conversion to finish")
	_ = imageUploadCmd.MarkFlagRequired("file")
}
