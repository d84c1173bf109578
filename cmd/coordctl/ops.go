package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-coord/pkg/opsapi"
)

// client calls the ops API of one node
type client struct {
	base  string
	token string
	http  *http.Client
}

// client builds the API client. A CA file implies https when the address
// has no scheme.
func (o *options) client() *client {
	base := o.addr
	if !strings.Contains(base, "://") {
		scheme := "http://"
		if o.rootCAs != nil {
			scheme = "https://"
		}
		base = scheme + base
	}

	httpClient := &http.Client{Timeout: o.timeout}
	if o.rootCAs != nil {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: o.rootCAs, MinVersion: tls.VersionTLS12},
		}
	}
	return &client{
		base:  strings.TrimSuffix(base, "/"),
		token: o.token,
		http:  httpClient,
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr opsapi.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newNodeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Show the node behind the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var node opsapi.NodeResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/node", nil, &node); err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), opts, node)
		},
	}
}

func printNode(w io.Writer, opts *options, node opsapi.NodeResponse) error {
	if opts.output == "json" {
		return printJSON(w, node)
	}
	return table(w, [][]any{
		{"ID", "JOINED", "STATE", "CLUSTER", "ACTIVE", "INSTANCE"},
		{node.ID, node.Joined, node.State, node.ClusterMode, node.Active, node.Instance},
	})
}

func newNodesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "nodes",
		Aliases: []string{"roster"},
		Short:   "List the node roster",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var roster opsapi.RosterResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/nodes", nil, &roster); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.output == "json" {
				return printJSON(w, roster)
			}

			rows := [][]any{{"ID", "STATE", "LIFE SIGN AGE", "CONFIRMED SEQ", "EXPIRED", ""}}
			for _, n := range roster.Nodes {
				confirmed := "-"
				if n.ConfirmedSeq != nil {
					confirmed = fmt.Sprint(*n.ConfirmedSeq)
				}
				self := ""
				if n.Self {
					self = "*"
				}
				age := roster.Now.Sub(n.LifeSign).Truncate(time.Millisecond)
				rows = append(rows, []any{n.ID, n.State, age, confirmed, n.Expired, self})
			}
			return table(w, rows)
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state STATE",
		Short: "Set the lifecycle state of the node behind the ops API",
		Long: `Set the lifecycle state of the node behind the ops API.

Valid states: WAIT_FOR_STARTUP, STARTUP, RUNNING, SHUTDOWN.
Only RUNNING nodes take part in confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var node opsapi.NodeResponse
			req := opsapi.StateRequest{State: strings.ToUpper(args[0])}
			if err := opts.client().do(cmd.Context(), http.MethodPut, "/v1/node/state", req, &node); err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), opts, node)
		},
	}
}

func newPropertiesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "properties [NAME]",
		Aliases: []string{"props"},
		Short:   "List cached properties, or show one with its confirmation status",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				var prop opsapi.PropertyResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/v1/properties/"+url.PathEscape(args[0]), nil, &prop); err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(w, prop)
				}
				return table(w, [][]any{
					{"NAME", "VALUE", "DECLARED", "PENDING", "CONFIRMED"},
					{prop.Name, prop.Value, prop.Declared, prop.Pending, prop.Confirmed},
				})
			}

			var list opsapi.PropertiesResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/properties", nil, &list); err != nil {
				return err
			}
			return printProperties(w, opts, list)
		},
	}
}

func printProperties(w io.Writer, opts *options, list opsapi.PropertiesResponse) error {
	if opts.output == "json" {
		return printJSON(w, list)
	}
	rows := [][]any{{"NAME", "VALUE", "DECLARED", "PENDING"}}
	for _, p := range list.Properties {
		rows = append(rows, []any{p.Name, p.Value, p.Declared, p.Pending})
	}
	return table(w, rows)
}

func newRefetchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refetch",
		Short: "Make the node read new property changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list opsapi.PropertiesResponse
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/refetch", nil, &list); err != nil {
				return err
			}
			return printProperties(cmd.OutOrStdout(), opts, list)
		},
	}
}
