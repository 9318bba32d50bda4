package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/ipc"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	artifactsCmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect and manage generated images",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List generated images, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ArtifactsList()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Artifacts) == 0 {
					fmt.Fprintln(stdout, "No artifacts")
					return nil
				}
				rows := make([][]string, 0, len(resp.Artifacts))
				for _, artifact := range resp.Artifacts {
					prompt := artifact.Prompt
					if len(prompt) > 40 {
						prompt = prompt[:37] + "..."
					}
					rows = append(rows, []string{
						artifact.ID,
						prompt,
						fmt.Sprintf("%dx%d", artifact.Width, artifact.Height),
						strconv.FormatInt(artifact.Seed, 10),
						artifact.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				table := renderTable(
					[]string{"ID", "Prompt", "Size", "Seed", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a generated image and its index entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ArtifactsDelete(id)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Deleted {
					fmt.Fprintf(stdout, "No artifact with id %s\n", id)
					return nil
				}
				fmt.Fprintf(stdout, "Deleted %s\n", id)
				return nil
			})
		},
	}

	artifactsCmd.AddCommand(listCmd, rmCmd)
	return artifactsCmd
}
