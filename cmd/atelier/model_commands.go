package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/config"
	"atelier/internal/ipc"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the diffusion model",
	}

	loadCmd := &cobra.Command{
		Use:   "load [path]",
		Short: "Load a diffusion model (defaults to the configured model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.TrimSpace(args[0])
			}
			if path == "" {
				cfg := ctx.configValue()
				if cfg == nil || cfg.Generation.ModelPath == "" {
					return fmt.Errorf("no model path given and generation.model_path is not configured")
				}
				path = cfg.Generation.ModelPath
			}
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ModelLoad(expanded)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Loaded {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				fmt.Fprintf(stdout, "Model loaded: %s\n", expanded)
				return nil
			})
		},
	}

	unloadCmd := &cobra.Command{
		Use:   "unload",
		Short: "Release the loaded diffusion model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ModelUnload()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Unloaded {
					fmt.Fprintln(stdout, "No model loaded")
					return nil
				}
				fmt.Fprintln(stdout, "Model unloaded")
				return nil
			})
		},
	}

	modelCmd.AddCommand(loadCmd, unloadCmd)
	return modelCmd
}
