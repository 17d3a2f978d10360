package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/machinat/sociably-sub013/internal/platform/messenger"
	"github.com/machinat/sociably-sub013/internal/server"
)

var (
	sendChannel string
	sendCount   int
	sendImage   string
	sendWait    bool
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Posts sample sends to the API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		for i := 1; i <= sendCount; i++ {
			req := server.SendRequest{
				Channel: sendChannel,
				Segments: []messenger.Segment{
					{Type: "text", Text: fmt.Sprintf("Hello from sample send %d", i)},
				},
			}
			if sendImage != "" {
				req.Segments = append(req.Segments, messenger.Segment{Type: "image", URL: sendImage})
			}

			body, err := postSend(req, sendWait)
			if err != nil {
				return err
			}
			slog.Info("Send posted", "n", i)
			_, _ = os.Stdout.Write(body)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints recently settled requests from the outcome journal",
	RunE: func(_ *cobra.Command, _ []string) error {
		resp, err := httpClient.Get(fmt.Sprintf("%s/api/history?limit=%d", baseURL(), historyLimit))
		if err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("history request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
		_, err = os.Stdout.Write(body)
		return err
	},
}

func postSend(req server.SendRequest, wait bool) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send: %w", err)
	}

	url := baseURL() + "/api/send"
	if wait {
		url += "?wait=true"
	}

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to post send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("send rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	sendCmd.Flags().StringVarP(&sendChannel, "channel", "c", "demo-user", "recipient channel id")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 5, "number of sends to post")
	sendCmd.Flags().StringVar(&sendImage, "image", "", "attach an image by URL to every send")
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "wait for each outcome")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "number of entries")

	rootCmd.AddCommand(sendCmd, historyCmd)
}
