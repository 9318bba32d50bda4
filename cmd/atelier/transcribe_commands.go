package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"atelier/internal/ipc"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	transcribeCmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Control live speech transcription",
	}

	var language string
	var watch bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start capturing speech from the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TranscribeStart(strings.TrimSpace(language))
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Started {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Transcription started")
				if watch {
					return watchTranscript(cmd, client)
				}
				return nil
			})
		},
	}
	startCmd.Flags().StringVarP(&language, "language", "l", "", "Spoken language code (default from config)")
	startCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream partial transcripts until capture ends")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop capturing and wait for the final transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TranscribeStop()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Stopped {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				text, err := waitForFinalText(client, 10*time.Second)
				if err != nil {
					return err
				}
				if text == "" {
					fmt.Fprintln(stdout, "No speech captured")
					return nil
				}
				fmt.Fprintln(stdout, text)
				return nil
			})
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Discard the active capture session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.TranscribeCancel(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Transcription cancelled")
				return nil
			})
		},
	}

	textCmd := &cobra.Command{
		Use:   "text",
		Short: "Print the current transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TranscribeText()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				switch {
				case resp.FinalText != "":
					fmt.Fprintln(stdout, resp.FinalText)
				case resp.PartialText != "":
					fmt.Fprintln(stdout, resp.PartialText)
				case resp.Error != "":
					fmt.Fprintf(stdout, "Transcription failed: %s\n", resp.Error)
				default:
					fmt.Fprintln(stdout, "No transcript available")
				}
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard the retained transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.TranscribeClear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Transcript cleared")
				return nil
			})
		},
	}

	transcribeCmd.AddCommand(startCmd, stopCmd, cancelCmd, textCmd, clearCmd)
	return transcribeCmd
}

// watchTranscript polls the live transcript and reprints it as it grows,
// returning once the session leaves the active state.
func watchTranscript(cmd *cobra.Command, client *ipc.Client) error {
	stdout := cmd.OutOrStdout()
	last := ""
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(300 * time.Millisecond):
		}
		resp, err := client.TranscribeText()
		if err != nil {
			return err
		}
		if resp.PartialText != last && resp.PartialText != "" {
			fmt.Fprintln(stdout, resp.PartialText)
			last = resp.PartialText
		}
		if resp.State != "active" && resp.State != "initializing" && resp.State != "ready" {
			if resp.FinalText != "" && resp.FinalText != last {
				fmt.Fprintln(stdout, resp.FinalText)
			}
			return nil
		}
	}
}

func waitForFinalText(client *ipc.Client, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.TranscribeText()
		if err != nil {
			return "", err
		}
		if resp.Error != "" {
			return "", fmt.Errorf("transcription failed: %s", resp.Error)
		}
		if resp.State == "completed" || resp.FinalText != "" {
			return resp.FinalText, nil
		}
		if resp.State == "idle" {
			return "", nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", fmt.Errorf("timed out waiting for final transcript")
}
