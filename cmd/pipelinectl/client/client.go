package client

import (
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Client is a thin JSON client for the pipeline API.
type Client struct {
	r *resty.Client
}

func New(baseURL string) *Client {
	return &Client{r: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/"))}
}

func (c *Client) Get(path string, out any) error {
	return c.do(resty.MethodGet, path, nil, out)
}

func (c *Client) Post(path string, body, out any) error {
	return c.do(resty.MethodPost, path, body, out)
}

func (c *Client) Delete(path string, out any) error {
	return c.do(resty.MethodDelete, path, nil, out)
}

func (c *Client) do(method, path string, body, out any) error {
	req := c.r.R().SetHeader("Accept", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("error making request: %v", err)
	}
	if resp.IsError() {
		return fmt.Errorf("request failed: status %d, body: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
