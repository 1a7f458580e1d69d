package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// bootstrapFile is the YAML shape syncctl apply consumes: a list of
// connections to create on a fresh deployment. Entries are kept as raw maps
// and re-encoded as JSON so the file uses the same field names as the API.
type bootstrapFile struct {
	Connections []map[string]interface{} `yaml:"connections"`
}

type client struct {
	baseURL string
	orgID   string
	token   string
	http    *http.Client
}

func main() {
	baseURL := flag.String("server", "http://localhost:8084", "sync service base URL")
	orgID := flag.String("org", "", "organization id")
	token := flag.String("token", "", "bearer token")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	if *orgID == "" {
		fmt.Fprintln(os.Stderr, "missing -org")
		os.Exit(2)
	}

	c := &client{
		baseURL: *baseURL,
		orgID:   *orgID,
		token:   *token,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "apply":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: syncctl apply <file.yaml>")
			os.Exit(2)
		}
		err = c.apply(flag.Arg(1))
	case "sync":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: syncctl sync <connection-id> [delta]")
			os.Exit(2)
		}
		delta := flag.NArg() > 2 && flag.Arg(2) == "delta"
		err = c.sync(flag.Arg(1), delta)
	case "logs":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: syncctl logs <connection-id>")
			os.Exit(2)
		}
		err = c.logs(flag.Arg(1))
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: syncctl [flags] <command>

commands:
  apply <file.yaml>              create connections from a bootstrap file
  sync <connection-id> [delta]   trigger a sync run
  logs <connection-id>           print recent sync logs`)
}

// apply creates every connection in the bootstrap file, continuing past
// individual failures so a partially-applied file can be re-run.
func (c *client) apply(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var failed int
	for _, in := range file.Connections {
		name, _ := in["name"].(string)
		body, err := c.do(http.MethodPost, "/api/v1/connections", in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %q: %v\n", name, err)
			failed++
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", name, created.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed", failed, len(file.Connections))
	}
	return nil
}

func (c *client) sync(connectionID string, delta bool) error {
	path := fmt.Sprintf("/api/v1/connections/%s/sync", connectionID)
	if delta {
		path += "/delta"
	}

	body, err := c.do(http.MethodPost, path, nil)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

func (c *client) logs(connectionID string) error {
	body, err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/connections/%s/sync/logs", connectionID), nil)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

func (c *client) do(method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", c.orgID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(raw))
	}
	return raw, nil
}
