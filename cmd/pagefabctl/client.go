package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call performs one API request and decodes the JSON response. Non-2xx
// responses surface the server's error field.
func call(c *cli.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	url := c.String("server") + path
	req, err := http.NewRequestWithContext(c.Context, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		code, _ := decoded["error"].(string)
		if code == "" {
			code = resp.Status
		}
		if detail, ok := decoded["detail"].(string); ok && detail != "" {
			return nil, fmt.Errorf("%s (%s)", code, detail)
		}
		if from, ok := decoded["from"].(string); ok {
			return nil, fmt.Errorf("%s (from %s to %s)", code, from, decoded["to"])
		}
		return nil, fmt.Errorf("%s", code)
	}
	return decoded, nil
}

func printJSON(c *cli.Context, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func jobIDArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("job id required")
	}
	return id, nil
}

func generateAction(c *cli.Context) error {
	resp, err := call(c, http.MethodPost, "/api/jobs", map[string]any{
		"model":     c.String("model"),
		"template":  c.String("template"),
		"max_pages": c.Int("max-pages"),
	})
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func previewAction(c *cli.Context) error {
	model := c.Args().First()
	if model == "" {
		return fmt.Errorf("model name required")
	}
	resp, err := call(c, http.MethodGet,
		fmt.Sprintf("/api/models/%s/preview?count=%d", model, c.Int("count")), nil)
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func statusAction(c *cli.Context) error {
	id, err := jobIDArg(c)
	if err != nil {
		return err
	}
	resp, err := call(c, http.MethodGet, "/api/jobs/"+id, nil)
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func jobsAction(c *cli.Context) error {
	resp, err := call(c, http.MethodGet, "/api/jobs", nil)
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func transitionAction(verb string) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := jobIDArg(c)
		if err != nil {
			return err
		}
		resp, err := call(c, http.MethodPost, "/api/jobs/"+id+"/"+verb, map[string]any{})
		if err != nil {
			return err
		}
		return printJSON(c, resp)
	}
}

func rollbackAction(c *cli.Context) error {
	id, err := jobIDArg(c)
	if err != nil {
		return err
	}
	mode := c.String("mode")
	if mode != "draft" && mode != "delete" {
		return fmt.Errorf("mode must be draft or delete")
	}
	resp, err := call(c, http.MethodPost, "/api/jobs/"+id+"/rollback", map[string]string{"mode": mode})
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func coverageAction(c *cli.Context) error {
	resp, err := call(c, http.MethodGet, "/api/coverage", nil)
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}
