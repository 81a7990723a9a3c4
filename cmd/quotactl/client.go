package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client drives the engine's admin HTTP API.
type Client struct {
	BaseURL  string
	Email    string
	Password string
	Token    string

	httpClient *http.Client
}

func NewClient(baseURL, email, password, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Email:      email,
		Password:   password,
		Token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// login exchanges credentials for a JWT when no token was supplied.
func (c *Client) login() error {
	if c.Token != "" {
		return nil
	}
	if c.Email == "" || c.Password == "" {
		return fmt.Errorf("admin credentials required: set -email/-password or -token")
	}

	body, _ := json.Marshal(map[string]string{
		"email":    c.Email,
		"password": c.Password,
	})

	resp, err := c.httpClient.Post(c.BaseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	c.Token = out.Token
	return nil
}

func (c *Client) do(method, path string, body interface{}) error {
	if err := c.login(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, string(payload))
	}

	return printJSON(payload)
}

func (c *Client) GenerateKey(developer, tier, name string) error {
	return c.do(http.MethodPost, "/admin/keys", map[string]string{
		"developer_id": developer,
		"tier":         tier,
		"name":         name,
	})
}

func (c *Client) KeyLifecycle(action string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s-key requires exactly one key uuid", action)
	}
	id := args[0]

	switch action {
	case "suspend":
		return c.do(http.MethodPost, "/admin/keys/"+id+"/suspend", nil)
	case "reactivate":
		return c.do(http.MethodPost, "/admin/keys/"+id+"/reactivate", nil)
	case "revoke":
		return c.do(http.MethodDelete, "/admin/keys/"+id, nil)
	default:
		return fmt.Errorf("unknown lifecycle action %q", action)
	}
}

func (c *Client) ListKeys(developer string) error {
	path := "/admin/keys"
	if developer != "" {
		path += "?developer_id=" + url.QueryEscape(developer)
	}
	return c.do(http.MethodGet, path, nil)
}

func (c *Client) Status() error {
	return c.do(http.MethodGet, "/admin/status", nil)
}

// Health hits the unauthenticated health endpoint directly.
func (c *Client) Health() error {
	resp, err := c.httpClient.Get(c.BaseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return printJSON(payload)
}

func (c *Client) Analytics(developer string, days int) error {
	path := "/admin/analytics/developers/" + url.PathEscape(developer) + "?days=" + strconv.Itoa(days)
	return c.do(http.MethodGet, path, nil)
}

func printJSON(payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		// not JSON, print as-is
		fmt.Println(string(payload))
		return nil
	}

	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
