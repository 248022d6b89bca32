// Package dataplane talks to the external Data Plane that owns domains,
// datasets and file-level access control.
package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
)

// FilePageSize is the page size used when listing dataset files.
const FilePageSize = 500

// Credential identifies a caller on the Data Plane.
type Credential struct {
	Token  string
	RoleID string
}

type Domain struct {
	Name        string `json:"DomainName"`
	DisplayName string `json:"DisplayName,omitempty"`
	Description string `json:"DomainDescription,omitempty"`
}

type Tenant struct {
	Name        string `json:"TenantName"`
	Description string `json:"TenantDescription,omitempty"`
}

type Role struct {
	ID   string `json:"RoleId"`
	Name string `json:"RoleName"`
}

// Dataset is the Data Plane view of a dataset.
type Dataset struct {
	ID               string `json:"DatasetId"`
	Name             string `json:"DatasetName"`
	Domain           string `json:"Domain"`
	TargetLocation   string `json:"TargetLocation"`
	FileType         string `json:"FileType"`
	AccessControlled bool   `json:"IsDataValidationEnabled"`
	Prefix           string `json:"DatasetS3Path,omitempty"`
}

// File is one dataset file.
type File struct {
	Key          string    `json:"FileName"`
	Size         int64     `json:"FileSize,omitempty"`
	LastModified time.Time `json:"LastModified,omitempty"`
}

// Identity is the Data Plane user behind a credential.
type Identity struct {
	UserID        string `json:"UserId"`
	RoleID        string `json:"RoleId"`
	DefaultDomain string `json:"DefaultDomain,omitempty"`
}

// CreateDatasetInput describes a managed dataset.
type CreateDatasetInput struct {
	Name           string `json:"DatasetName"`
	Description    string `json:"DatasetDescription,omitempty"`
	Domain         string `json:"Domain"`
	FileType       string `json:"FileType"`
	TargetLocation string `json:"TargetLocation"`
}

// Client is an HTTP client for the Data Plane REST API
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a new Data Plane client
func NewClient(cfg config.DataPlaneConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (c *Client) ListDomains(ctx context.Context, cred Credential) ([]Domain, error) {
	var out struct {
		Domains []Domain `json:"domains"`
	}
	if err := c.do(ctx, cred, http.MethodGet, "/domains", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Domains, nil
}

func (c *Client) ListTenants(ctx context.Context, cred Credential) ([]Tenant, error) {
	var out struct {
		Tenants []Tenant `json:"tenants"`
	}
	if err := c.do(ctx, cred, http.MethodGet, "/tenants", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tenants, nil
}

func (c *Client) ListRoles(ctx context.Context, cred Credential, userID string) ([]Role, error) {
	var out struct {
		Roles []Role `json:"roles"`
	}
	if err := c.do(ctx, cred, http.MethodGet, "/users/"+url.PathEscape(userID)+"/roles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

func (c *Client) ListDatasets(ctx context.Context, cred Credential, domainName string) ([]Dataset, error) {
	q := url.Values{}
	if domainName != "" {
		q.Set("domain", domainName)
	}
	var out struct {
		Datasets []Dataset `json:"datasets"`
	}
	if err := c.do(ctx, cred, http.MethodGet, "/datasets", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

func (c *Client) GetDataset(ctx context.Context, cred Credential, datasetID string) (*Dataset, error) {
	var out Dataset
	if err := c.do(ctx, cred, http.MethodGet, "/datasets/"+url.PathEscape(datasetID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDataset(ctx context.Context, cred Credential, in CreateDatasetInput) (*Dataset, error) {
	var out Dataset
	if err := c.do(ctx, cred, http.MethodPost, "/datasets", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles pages through every file of the dataset.
func (c *Client) ListFiles(ctx context.Context, cred Credential, datasetID string) ([]File, error) {
	var files []File
	for offset := 1; ; offset += FilePageSize {
		q := url.Values{}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(FilePageSize))

		var page struct {
			Files         []File `json:"files"`
			NextAvailable string `json:"next_available"`
		}
		if err := c.do(ctx, cred, http.MethodGet, "/datasets/"+url.PathEscape(datasetID)+"/files", q, nil, &page); err != nil {
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextAvailable != "yes" || len(page.Files) == 0 {
			return files, nil
		}
	}
}

// AuthorizedFiles returns the subset of keys the credential may read.
func (c *Client) AuthorizedFiles(ctx context.Context, cred Credential, datasetID string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	body := map[string]any{"FileNames": keys}
	var out struct {
		Authorized []string `json:"AuthorizedFiles"`
	}
	if err := c.do(ctx, cred, http.MethodPost, "/datasets/"+url.PathEscape(datasetID)+"/files/access", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Authorized, nil
}

// UploadFile obtains a presigned upload URL for name and streams body to it.
func (c *Client) UploadFile(ctx context.Context, cred Credential, datasetID, name string, body io.Reader) (string, error) {
	var presigned struct {
		URL string `json:"PresignedURL"`
		Key string `json:"FileName"`
	}
	req := map[string]string{"FileName": name}
	if err := c.do(ctx, cred, http.MethodPost, "/datasets/"+url.PathEscape(datasetID)+"/upload-url", nil, req, &presigned); err != nil {
		return "", err
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	resp, err := c.http.Do(put)
	if err != nil {
		return "", domain.Upstream(err, "failed to upload file to the data plane")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", domain.Upstream(nil, "data plane upload failed with status %d", resp.StatusCode)
	}
	return presigned.Key, nil
}

// Identify resolves the credential to its Data Plane user.
func (c *Client) Identify(ctx context.Context, cred Credential) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, cred, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, cred Credential, method, path string, query url.Values, in, out any) error {
	if c.baseURL == "" {
		return domain.Upstream(nil, "data plane is not configured")
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", cred.Token)
	if cred.RoleID != "" {
		req.Header.Set("role_id", cred.RoleID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Upstream(err, "failed to reach the data plane")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Upstream(err, "failed to decode data plane response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Message string `json:"Message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.E(domain.KindUnauthorized, nil, "data plane denied access: %s", msg)
	case http.StatusNotFound:
		return domain.E(domain.KindNotFound, domain.ErrNotFound, "data plane resource not found: %s", msg)
	case http.StatusBadRequest:
		return domain.E(domain.KindInvalidInput, nil, "data plane rejected request: %s", msg)
	}
	return domain.Upstream(nil, "data plane returned status %d: %s", resp.StatusCode, msg)
}
