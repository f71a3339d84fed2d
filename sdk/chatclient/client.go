// Package chatclient is the surface consumed by editor glue: command
// registration, quick-pick menus and chat UI call into this facade and
// never into the internal packages directly.
package chatclient

import (
	"context"
	"net/http"

	"github.com/chatpad-dev/chatpad/internal/auth"
	"github.com/chatpad-dev/chatpad/internal/chat"
	"github.com/chatpad-dev/chatpad/internal/config"
	"github.com/chatpad-dev/chatpad/internal/session"
)

// Credential re-exports the persisted record for collaborators.
type Credential = auth.Credential

// DeviceFlowCallbacks re-exports the device-flow progress hooks.
type DeviceFlowCallbacks = auth.DeviceFlowCallbacks

// Request, Message, Tool and Chunk re-export the chat types.
type (
	Request = chat.Request
	Message = chat.Message
	Tool    = chat.Tool
	Chunk   = chat.Chunk
)

// Options configures construction. Every field is optional.
type Options struct {
	// Vault is the host editor's secret storage; nil falls back to the
	// credential file alone.
	Vault auth.Vault

	// HTTPClient overrides the OAuth endpoints' transport (tests).
	HTTPClient *http.Client
}

// Client bundles the credential store, session state, OAuth manager
// and completion transport behind one handle. One Client per process.
type Client struct {
	cfg     *config.Config
	store   auth.Store
	session *session.Session
	manager *auth.Manager
	chat    *chat.Client
}

// New builds the facade. The session is primed from the store so a
// previously authenticated editor starts authenticated.
func New(cfg *config.Config, opts Options) *Client {
	store := auth.NewStore(opts.Vault, cfg.CredentialFile)
	sess := session.New(cfg.Endpoints.API)

	oauthClient := auth.NewClient(cfg, opts.HTTPClient)
	manager := auth.NewManager(oauthClient, store, func(cred *auth.Credential) {
		sess.SetCredential(cred)
	})

	c := &Client{
		cfg:     cfg,
		store:   store,
		session: sess,
		manager: manager,
	}
	c.chat = chat.NewClient(sess, c.validCredential)

	if cred, err := store.Load(); err == nil && cred != nil {
		sess.SetCredential(cred)
	}
	return c
}

// IsAuthenticated reports whether a credential with a non-blank access
// token is present in the session.
func (c *Client) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

// StartDeviceFlow runs one device-code authentication attempt. The
// returned credential is already persisted and installed in the
// session. Cancel ctx to abort, including an in-progress poll wait.
func (c *Client) StartDeviceFlow(ctx context.Context, callbacks DeviceFlowCallbacks) (*Credential, error) {
	return c.manager.StartDeviceFlow(ctx, callbacks)
}

// SaveCredentials persists an externally obtained credential.
func (c *Client) SaveCredentials(cred *Credential) error {
	return c.manager.Save(cred)
}

// ClearCredentials logs out: vault entry and file are both removed and
// the session is reset. Calling it twice is not an error.
func (c *Client) ClearCredentials() error {
	return c.manager.Logout()
}

// GetValidAccessToken returns an access token valid for at least the
// refresh buffer, refreshing lazily when the stored one is near expiry.
// Fails fast with auth.ErrNotAuthenticated when nothing usable is stored.
func (c *Client) GetValidAccessToken(ctx context.Context) (string, error) {
	cred, err := c.validCredential(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// StreamChatCompletion opens a completion stream; see chat.Client.
func (c *Client) StreamChatCompletion(ctx context.Context, req Request) (<-chan Chunk, error) {
	return c.chat.StreamCompletion(ctx, req)
}

// CountTokens estimates the token footprint of a message list.
func (c *Client) CountTokens(messages []Message) int {
	return chat.CountTokens(messages)
}

func (c *Client) validCredential(ctx context.Context) (*auth.Credential, error) {
	cred, err := c.manager.ValidCredential(ctx)
	if err != nil {
		return nil, err
	}
	// Keep the session in step when the store was populated out of band.
	if !c.session.IsAuthenticated() {
		c.session.SetCredential(cred)
	}
	return cred, nil
}
