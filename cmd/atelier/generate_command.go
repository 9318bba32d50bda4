package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/ipc"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var negative string
	var steps int
	var guidance float64
	var seed int64
	var width int
	var height int

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate an image from a text prompt",
		Long: "Generate an image from a text prompt. The command blocks until the\n" +
			"job finishes; cancel it from another terminal with `atelier generate cancel`.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Generate(ipc.GenerateRequest{
					Prompt:         prompt,
					NegativePrompt: negative,
					Steps:          steps,
					GuidanceScale:  guidance,
					Seed:           seed,
					Width:          width,
					Height:         height,
				})
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Artifact == nil {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				artifact := resp.Artifact
				fmt.Fprintf(stdout, "Generated %dx%d image (%d steps, seed %d)\n",
					artifact.Width, artifact.Height, artifact.Steps, artifact.Seed)
				fmt.Fprintln(stdout, artifact.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&negative, "negative", "", "Negative prompt")
	cmd.Flags().IntVar(&steps, "steps", 0, "Sampling steps (default 20)")
	cmd.Flags().Float64Var(&guidance, "guidance", 0, "Guidance scale (default 7.5)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed (0 picks a random seed)")
	cmd.Flags().IntVar(&width, "width", 0, "Image width (default 512)")
	cmd.Flags().IntVar(&height, "height", 0, "Image height (default 512)")

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the in-flight generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.GenerateCancel(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Generation cancelled")
				return nil
			})
		},
	}
	cmd.AddCommand(cancelCmd)

	return cmd
}
