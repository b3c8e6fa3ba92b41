package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ceyewan/modlink/authgw"
	"github.com/ceyewan/modlink/identity"
	"github.com/ceyewan/modlink/xerrors"
)

func newRequestCmd() *cobra.Command {
	var (
		data  string
		query []string
	)
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Call a REST endpoint through the auth gateway and print the JSON response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			req, err := buildRequest(args[0], data, query)
			if err != nil {
				return err
			}
			return runRequest(cmd.Context(), a, args[1], req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "Query parameter key=value, repeatable")
	return cmd
}

func buildRequest(method, data string, query []string) (*authgw.Request, error) {
	req := &authgw.Request{Method: strings.ToUpper(method)}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "--data is not valid JSON")
		}
		req.Body = json.RawMessage(data)
	}
	if len(query) > 0 {
		req.Query = url.Values{}
		for _, kv := range query {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "query %q must be key=value", kv)
			}
			req.Query.Add(k, v)
		}
	}
	return req, nil
}

// runRequest 已登录时以 Bearer 令牌附带身份，Cookie 由网关的 Jar 携带
func runRequest(ctx context.Context, a *app, path string, req *authgw.Request, out io.Writer) error {
	if sess, err := a.store.Current(ctx); err == nil {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	} else if !xerrors.Is(err, identity.ErrNoSession) {
		return err
	}

	resp, err := a.gateway.Execute(ctx, path, req)
	if err != nil {
		var apiErr *authgw.APIError
		if xerrors.As(err, &apiErr) {
			switch {
			case len(apiErr.Body) > 0:
				_ = writeJSON(out, apiErr.Body)
			case len(apiErr.Raw) > 0:
				_, _ = fmt.Fprintln(out, string(apiErr.Raw))
			}
		}
		return err
	}
	return writeJSON(out, resp.Body)
}

func writeJSON(out io.Writer, body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		buf.Reset()
		buf.Write(body)
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}
