package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type options struct {
	serverURL string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "nodeaictl",
		Short:         "nodeai operator CLI",
		Long:          "Validate and plan workflow graphs locally, and manage deployments on a nodeai server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("NODEAI_SERVER", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "validate [file]",
			Short: "Validate a graph file (YAML or JSON)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				graph, err := loadGraph(args[0])
				if err != nil {
					return err
				}
				if err := orchestrator.NewValidator().Validate(graph); err != nil {
					printIssues(cmd.OutOrStdout(), err)
					return fmt.Errorf("%s is invalid", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes, %d edges)\n", args[0], len(graph.Nodes), len(graph.Edges))
				return nil
			},
		},
		&cobra.Command{
			Use:   "plan [file]",
			Short: "Print the execution layers of a graph file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				graph, err := loadGraph(args[0])
				if err != nil {
					return err
				}
				if err := orchestrator.NewValidator().Validate(graph); err != nil {
					printIssues(cmd.OutOrStdout(), err)
					return fmt.Errorf("%s is invalid", args[0])
				}
				plan, err := orchestrator.BuildPlan(graph)
				if err != nil {
					return err
				}
				for i, layer := range plan.Layers {
					fmt.Fprintf(cmd.OutOrStdout(), "layer %d: %s\n", i, strings.Join(layer, ", "))
				}
				return nil
			},
		},
		newDeployCmd(opts),
		newRollbackCmd(opts),
		newHealthCmd(opts),
	)

	return rootCmd
}

func newDeployCmd(opts *options) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "deploy [workflow-id] [file]",
		Short: "Deploy a graph file as the next version of a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loadGraph(args[1])
			if err != nil {
				return err
			}
			body := map[string]any{"graph": graph, "description": description}
			return opts.call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/workflows/"+args[0]+"/deployments", body)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Version description")
	return cmd
}

func newRollbackCmd(opts *options) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "rollback [workflow-id]",
		Short: "Make an earlier version of a workflow active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"version_number": version}
			return opts.call(cmd.OutOrStdout(), http.MethodPost, "/api/v1/workflows/"+args[0]+"/rollback", body)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Version number to activate")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health [workflow-id]",
		Short: "Show the health of a workflow's active version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd.OutOrStdout(), http.MethodGet, "/api/v1/workflows/"+args[0]+"/health", nil)
		},
	}
}

// loadGraph reads a graph from a YAML or JSON file. JSON is decoded by the
// YAML parser as well.
func loadGraph(path string) (*domain.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	var graph domain.WorkflowGraph
	if err := yaml.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse graph file: %w", err)
	}
	return &graph, nil
}

func printIssues(w io.Writer, err error) {
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		fmt.Fprintln(w, err)
		return
	}
	for _, issue := range validationErr.Issues {
		fmt.Fprintf(w, "  %s: %s\n", issue.Code, issue.Message)
	}
}

// call sends a JSON request and prints the indented response body.
func (o *options) call(out io.Writer, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(o.serverURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, respBody, "", "  ") == nil {
		respBody = pretty.Bytes()
	}
	fmt.Fprintln(out, string(respBody))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
