package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
	"github.com/sirosfoundation/kettle/internal/server"
)

var (
	statusURL   string
	statusToken string
)

// Client wraps HTTP client for admin endpoint calls
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new admin client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get fetches path from the server
func (c *Client) Get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var frame lifecycle.ErrorFrame
		if json.Unmarshal(body, &frame) == nil && frame.IsError {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, frame.Message)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status and routes of a running server",
	RunE: func(_ *cobra.Command, _ []string) error {
		data, err := NewClient(statusURL, statusToken).Get("/status")
		if err != nil {
			return err
		}

		if output == "json" {
			var formatted bytes.Buffer
			if err := json.Indent(&formatted, data, "", "  "); err != nil {
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(formatted.String())
			return nil
		}

		var status server.StatusResponse
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("failed to parse status: %w", err)
		}

		fmt.Printf("Service:     %s\n", status.Service)
		fmt.Printf("Status:      %s\n", status.Status)
		fmt.Printf("Address:     %s\n", status.Address)
		fmt.Printf("Uptime:      %s\n", status.Uptime)
		kinds := make([]string, 0, len(status.Connections))
		for kind := range status.Connections {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Printf("Connections: %s=%s\n", kind, strconv.Itoa(status.Connections[kind]))
		}
		fmt.Println()

		rows := make([][]string, 0, len(status.Routes))
		for _, r := range status.Routes {
			rows = append(rows, []string{r.Method, r.Route, r.Transport, r.Handler})
		}
		printTable([]string{"METHOD", "ROUTE", "TRANSPORT", "HANDLER"}, rows)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusURL, "url", "u", getEnvOrDefault("KETTLE_URL", "http://localhost:8080"), "Server base URL")
	statusCmd.Flags().StringVarP(&statusToken, "token", "t", getEnvOrDefault("KETTLE_SERVER_ADMIN_TOKEN", ""), "Admin token")
	rootCmd.AddCommand(statusCmd)
}
