// Package relay provides a client for the agent relay API.
package relay

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eldtechnologies/relay/internal/crypto"
)

// Client is a relay API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Name       string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client

	lastTimestamp int64
}

// Config holds agent configuration.
type Config struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// NewClient creates a new relay client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("RELAY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".relay")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "agent.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}

	seed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(keyData)))
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	c.Name = config.Name
	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)
	return nil
}

// SaveConfig saves agent credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	pub, err := c.EncodedPublicKey()
	if err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{Name: c.Name, PublicKey: pub}, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600); err != nil {
		return err
	}

	keyData := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// EncodedPublicKey returns the public key in the relay's base64 SPKI form.
func (c *Client) EncodedPublicKey() (string, error) {
	if c.PublicKey == nil {
		return "", fmt.Errorf("no keypair loaded")
	}
	return crypto.EncodePublicKey(c.PublicKey)
}

// APIError is a failure envelope returned by the relay.
type APIError struct {
	Status  int    `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d (%s): %s", e.Status, e.Kind, e.Message)
}

// timestamp returns a strictly increasing unix millisecond timestamp, so two
// signed bodies never collide.
func (c *Client) timestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= c.lastTimestamp {
		ts = c.lastTimestamp + 1
	}
	c.lastTimestamp = ts
	return ts
}

// signedBody marshals fields with a fresh timestamp.
func (c *Client) signedBody(fields map[string]interface{}) []byte {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["timestamp"] = c.timestamp()
	body, _ := json.Marshal(fields)
	return body
}

// doRequest performs an HTTP request and decodes the response into out.
func (c *Client) doRequest(method, path string, body []byte, signed bool, out interface{}) error {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if signed {
		if c.PrivateKey == nil || c.Name == "" {
			return fmt.Errorf("signed request requires a registered agent")
		}
		req.Header.Set("X-Relay-Agent", c.Name)
		req.Header.Set("X-Relay-Signature", crypto.Sign(c.PrivateKey, body))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(respBody, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Agent is an agent's public record.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PublicKey     string    `json:"public_key"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type agentResponse struct {
	Agent Agent `json:"agent"`
}

// Register generates a keypair, registers name and saves the credentials.
func (c *Client) Register(name, email string) (*Agent, error) {
	if err := c.GenerateKeypair(); err != nil {
		return nil, err
	}
	pub, err := c.EncodedPublicKey()
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"name": name, "public_key": pub, "email": email})
	var resp agentResponse
	if err := c.doRequest(http.MethodPost, "/agents", body, false, &resp); err != nil {
		return nil, err
	}

	c.Name = resp.Agent.Name
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp.Agent, nil
}

// GetAgent gets an agent's public record.
func (c *Client) GetAgent(name string) (*Agent, error) {
	var resp agentResponse
	if err := c.doRequest(http.MethodGet, "/agents/"+url.PathEscape(name), nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp.Agent, nil
}

// RotateKey replaces this agent's identity key. The request is signed with
// the old key; the new one is saved only after the relay accepts it.
func (c *Client) RotateKey() (*Agent, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	encoded, err := crypto.EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}

	body := c.signedBody(map[string]interface{}{"public_key": encoded})
	var resp agentResponse
	if err := c.doRequest(http.MethodPost, "/agents/"+url.PathEscape(c.Name)+"/rotate-key", body, true, &resp); err != nil {
		return nil, err
	}

	c.PublicKey, c.PrivateKey = pub, priv
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp.Agent, nil
}

// Approve activates a pending agent. Requires an admin grant.
func (c *Client) Approve(name string) (*Agent, error) {
	var resp agentResponse
	err := c.doRequest(http.MethodPost, "/agents/"+url.PathEscape(name)+"/approve", c.signedBody(nil), true, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Agent, nil
}

// Revoke deactivates an agent. Requires an admin grant.
func (c *Client) Revoke(name string) (*Agent, error) {
	var resp agentResponse
	err := c.doRequest(http.MethodPost, "/agents/"+url.PathEscape(name)+"/revoke", c.signedBody(nil), true, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Agent, nil
}

// AdminGrant is an admin ledger entry.
type AdminGrant struct {
	Agent     string    `json:"agent"`
	PublicKey string    `json:"public_key"`
	GrantedBy string    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GrantAdmin copies name's current key into the admin ledger.
func (c *Client) GrantAdmin(name string) (*AdminGrant, error) {
	var resp struct {
		Grant AdminGrant `json:"grant"`
	}
	err := c.doRequest(http.MethodPost, "/admin/grants", c.signedBody(map[string]interface{}{"agent": name}), true, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Grant, nil
}

// RevokeAdmin removes name from the admin ledger.
func (c *Client) RevokeAdmin(name string) error {
	return c.doRequest(http.MethodDelete, "/admin/grants/"+url.PathEscape(name), c.signedBody(nil), true, nil)
}

// AdminKey is a published admin key.
type AdminKey struct {
	Agent     string    `json:"agent"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAdminKeys fetches the admin ledger.
func (c *Client) ListAdminKeys() ([]AdminKey, error) {
	var resp struct {
		Keys []AdminKey `json:"keys"`
	}
	if err := c.doRequest(http.MethodGet, "/admin/keys", nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// SendVerificationCode asks the relay to email a code to email.
func (c *Client) SendVerificationCode(email string) error {
	body, _ := json.Marshal(map[string]string{"agent": c.Name, "email": email})
	return c.doRequest(http.MethodPost, "/email/send", body, false, nil)
}

// ConfirmVerificationCode submits the emailed code.
func (c *Client) ConfirmVerificationCode(code string) error {
	body, _ := json.Marshal(map[string]string{"agent": c.Name, "code": code})
	return c.doRequest(http.MethodPost, "/email/confirm", body, false, nil)
}

// Broadcast is an admin-signed announcement.
type Broadcast struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBroadcast signs payload with this agent's key and submits it. The
// key must match the agent's admin ledger entry.
func (c *Client) CreateBroadcast(typ, payload string) (*Broadcast, error) {
	if c.PrivateKey == nil {
		return nil, fmt.Errorf("no keypair loaded")
	}
	body, _ := json.Marshal(map[string]string{
		"sender":    c.Name,
		"type":      typ,
		"payload":   payload,
		"signature": crypto.Sign(c.PrivateKey, []byte(payload)),
	})

	var resp struct {
		Broadcast Broadcast `json:"broadcast"`
	}
	if err := c.doRequest(http.MethodPost, "/broadcasts", body, false, &resp); err != nil {
		return nil, err
	}
	return &resp.Broadcast, nil
}

// ListBroadcasts fetches one page of broadcasts oldest first, starting after
// the given broadcast ID. typ and after may be empty. The returned cursor
// continues the listing and is empty when there was nothing to return.
func (c *Client) ListBroadcasts(typ, after string, limit int) ([]Broadcast, string, error) {
	q := url.Values{}
	if typ != "" {
		q.Set("type", typ)
	}
	if after != "" {
		q.Set("after", after)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/broadcasts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Broadcasts []Broadcast `json:"broadcasts"`
		Next       string      `json:"next"`
	}
	if err := c.doRequest(http.MethodGet, path, nil, false, &resp); err != nil {
		return nil, "", err
	}
	return resp.Broadcasts, resp.Next, nil
}

// ListAllBroadcasts pages through every broadcast after the cursor.
func (c *Client) ListAllBroadcasts(typ, after string) ([]Broadcast, error) {
	var all []Broadcast
	for {
		page, next, err := c.ListBroadcasts(typ, after, 0)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		after = next
	}
}

// VerifyBroadcast checks b locally against the sender's key in keys. It does
// not trust the relay's own creation-time check.
func VerifyBroadcast(b Broadcast, keys []AdminKey) bool {
	for _, k := range keys {
		if k.Agent == b.Sender && crypto.Verify([]byte(b.Payload), b.Signature, k.PublicKey) {
			return true
		}
	}
	return false
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
