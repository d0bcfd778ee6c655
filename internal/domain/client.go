package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fieldstack/assist/internal/core"
)

// Lookup resolves an informal mention to candidate entities, scoped to
// the caller's tenant.
type Lookup interface {
	Autocomplete(ctx context.Context, chatCtx core.ChatContext, symbol rune, query string) ([]Suggestion, error)
}

// Permissions yields the caller's permission set.
type Permissions interface {
	PermissionsFor(ctx context.Context, chatCtx core.ChatContext) ([]string, error)
}

// Store is the domain-object persistence collaborator.
type Store interface {
	ListTasks(ctx context.Context, chatCtx core.ChatContext, filter map[string]string) ([]Task, error)
	GetTask(ctx context.Context, chatCtx core.ChatContext, id string) (*Task, error)
	CreateTask(ctx context.Context, chatCtx core.ChatContext, input TaskInput) (*Task, error)
	UpdateTask(ctx context.Context, chatCtx core.ChatContext, id string, input TaskInput) (*Task, error)
	ListWorkOrders(ctx context.Context, chatCtx core.ChatContext, filter map[string]string) ([]WorkOrder, error)
	GetWorkOrder(ctx context.Context, chatCtx core.ChatContext, id string) (*WorkOrder, error)
	ListPersonnel(ctx context.Context, chatCtx core.ChatContext) ([]Person, error)
	ListProjects(ctx context.Context, chatCtx core.ChatContext) ([]Project, error)
	ListClients(ctx context.Context, chatCtx core.ChatContext) ([]Client, error)
	Workload(ctx context.Context, chatCtx core.ChatContext) (*WorkloadSummary, error)
	LookupNames(ctx context.Context, chatCtx core.ChatContext, entityType EntityType, ids []string) (map[string]string, error)
}

// HTTPClient talks to the backend's REST API. It implements Lookup,
// Permissions and Store.
type HTTPClient struct {
	apiURL          string
	autocompleteURL string
	lookupLimit     int
	httpClient      *http.Client
}

func NewHTTPClient(apiURL, autocompleteURL string, lookupLimit int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		apiURL:          apiURL,
		autocompleteURL: autocompleteURL,
		lookupLimit:     lookupLimit,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type autocompleteResponse struct {
	Success     bool         `json:"success"`
	Suggestions []Suggestion `json:"suggestions"`
}

func (c *HTTPClient) Autocomplete(ctx context.Context, chatCtx core.ChatContext, symbol rune, query string) ([]Suggestion, error) {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(c.lookupLimit))
	params.Set("token", chatCtx.AuthToken)

	var resp autocompleteResponse
	if err := c.get(ctx, chatCtx, c.autocompleteURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("autocomplete lookup rejected for symbol %q", symbol)
	}
	return resp.Suggestions, nil
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

func (c *HTTPClient) PermissionsFor(ctx context.Context, chatCtx core.ChatContext) ([]string, error) {
	var resp permissionsResponse
	if err := c.get(ctx, chatCtx, c.apiURL+"/users/"+url.PathEscape(chatCtx.UserID)+"/permissions", &resp); err != nil {
		return nil, err
	}
	return resp.Permissions, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, chatCtx core.ChatContext, filter map[string]string) ([]Task, error) {
	var tasks []Task
	err := c.get(ctx, chatCtx, c.apiURL+"/tasks"+encodeFilter(filter), &tasks)
	return tasks, err
}

func (c *HTTPClient) GetTask(ctx context.Context, chatCtx core.ChatContext, id string) (*Task, error) {
	var task Task
	if err := c.get(ctx, chatCtx, c.apiURL+"/tasks/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) CreateTask(ctx context.Context, chatCtx core.ChatContext, input TaskInput) (*Task, error) {
	var task Task
	if err := c.send(ctx, chatCtx, http.MethodPost, c.apiURL+"/tasks", input, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) UpdateTask(ctx context.Context, chatCtx core.ChatContext, id string, input TaskInput) (*Task, error) {
	var task Task
	if err := c.send(ctx, chatCtx, http.MethodPatch, c.apiURL+"/tasks/"+url.PathEscape(id), input, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) ListWorkOrders(ctx context.Context, chatCtx core.ChatContext, filter map[string]string) ([]WorkOrder, error) {
	var orders []WorkOrder
	err := c.get(ctx, chatCtx, c.apiURL+"/work-orders"+encodeFilter(filter), &orders)
	return orders, err
}

func (c *HTTPClient) GetWorkOrder(ctx context.Context, chatCtx core.ChatContext, id string) (*WorkOrder, error) {
	var order WorkOrder
	if err := c.get(ctx, chatCtx, c.apiURL+"/work-orders/"+url.PathEscape(id), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) ListPersonnel(ctx context.Context, chatCtx core.ChatContext) ([]Person, error) {
	var people []Person
	err := c.get(ctx, chatCtx, c.apiURL+"/personnel", &people)
	return people, err
}

func (c *HTTPClient) ListProjects(ctx context.Context, chatCtx core.ChatContext) ([]Project, error) {
	var projects []Project
	err := c.get(ctx, chatCtx, c.apiURL+"/projects", &projects)
	return projects, err
}

func (c *HTTPClient) ListClients(ctx context.Context, chatCtx core.ChatContext) ([]Client, error) {
	var clients []Client
	err := c.get(ctx, chatCtx, c.apiURL+"/clients", &clients)
	return clients, err
}

func (c *HTTPClient) Workload(ctx context.Context, chatCtx core.ChatContext) (*WorkloadSummary, error) {
	var summary WorkloadSummary
	if err := c.get(ctx, chatCtx, c.apiURL+"/analytics/workload", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

type lookupNamesRequest struct {
	Type EntityType `json:"type"`
	IDs  []string   `json:"ids"`
}

func (c *HTTPClient) LookupNames(ctx context.Context, chatCtx core.ChatContext, entityType EntityType, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	err := c.send(ctx, chatCtx, http.MethodPost, c.apiURL+"/lookup/names", lookupNamesRequest{Type: entityType, IDs: ids}, &names)
	return names, err
}

func (c *HTTPClient) get(ctx context.Context, chatCtx core.ChatContext, rawURL string, out any) error {
	return c.do(ctx, chatCtx, http.MethodGet, rawURL, nil, out)
}

func (c *HTTPClient) send(ctx context.Context, chatCtx core.ChatContext, method, rawURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, chatCtx, method, rawURL, payload, out)
}

func (c *HTTPClient) do(ctx context.Context, chatCtx core.ChatContext, method, rawURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+chatCtx.AuthToken)
	req.Header.Set("X-Tenant-ID", chatCtx.TenantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		dump, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("domain API %s %s: status %d: %s", method, rawURL, resp.StatusCode, dump)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeFilter(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	params := url.Values{}
	for k, v := range filter {
		params.Set(k, v)
	}
	return "?" + params.Encode()
}
