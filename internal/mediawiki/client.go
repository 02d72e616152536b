// Package mediawiki implements a minimal client for the MediaWiki action
// API: global account lookup and the eligibility predicate the gate
// confirms against. Only the globaluserinfo meta query is used.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrAccountMissing is returned when the requested global account does not
// exist.
var ErrAccountMissing = errors.New("mediawiki: global account not found")

// LocalAccount is one per-wiki attachment of a global account.
type LocalAccount struct {
	Wiki         string `json:"wiki"`
	EditCount    int    `json:"editcount"`
	Registration string `json:"registration"`
}

// Account is the merged view of a global account.
type Account struct {
	ID           int64
	Name         string
	Registration time.Time
	Merged       []LocalAccount
}

// Client queries one MediaWiki installation. The zero HTTPClient falls back
// to a 15 second default.
type Client struct {
	// APIURL is the action API endpoint, e.g. https://meta.wikimedia.org/w/api.php.
	APIURL string
	// HTTPClient is the transport; nil uses a default with a 15s timeout.
	HTTPClient *http.Client
	// UserAgent identifies the bot per the wiki API etiquette.
	UserAgent string

	// Wikis restricts which local attachments count toward eligibility.
	// Empty means any wiki counts.
	Wikis []string
	// MinEditCount is the minimum local edit count required.
	MinEditCount int
	// MinAccountAge is the minimum local account age required.
	MinAccountAge time.Duration

	// Now is the eligibility clock; defaults to time.Now.
	Now func() time.Time
}

// guiResponse mirrors the slice of the API response we consume.
type guiResponse struct {
	Query struct {
		GlobalUserInfo struct {
			Missing      *string        `json:"missing"`
			ID           int64          `json:"id"`
			Name         string         `json:"name"`
			Registration string         `json:"registration"`
			Merged       []LocalAccount `json:"merged"`
		} `json:"globaluserinfo"`
	} `json:"query"`
}

// LookupByName fetches the global account for a (canonical) username.
// Returns ErrAccountMissing when no such account exists; any transport or
// decode failure is returned as-is.
func (c *Client) LookupByName(ctx context.Context, username string) (*Account, error) {
	return c.lookup(ctx, url.Values{"guiuser": {username}})
}

// LookupByID fetches the global account by its CentralAuth id.
func (c *Client) LookupByID(ctx context.Context, id int64) (*Account, error) {
	return c.lookup(ctx, url.Values{"guiid": {strconv.FormatInt(id, 10)}})
}

func (c *Client) lookup(ctx context.Context, params url.Values) (*Account, error) {
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("formatversion", "2")
	params.Set("meta", "globaluserinfo")
	params.Set("guiprop", "merged")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mediawiki: unexpected status %d", resp.StatusCode)
	}

	var body guiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("mediawiki: decode response: %w", err)
	}

	gui := body.Query.GlobalUserInfo
	if gui.Missing != nil {
		return nil, ErrAccountMissing
	}

	acct := &Account{ID: gui.ID, Name: gui.Name, Merged: gui.Merged}
	if gui.Registration != "" {
		if t, err := time.Parse(time.RFC3339, gui.Registration); err == nil {
			acct.Registration = t
		}
	}
	return acct, nil
}

// Eligible reports whether the account has, on at least one counted wiki, a
// local attachment satisfying both the edit-count and account-age minimums.
func (c *Client) Eligible(acct *Account) bool {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	cutoff := now().Add(-c.MinAccountAge)

	for _, local := range acct.Merged {
		if !c.wikiCounts(local.Wiki) {
			continue
		}
		if local.EditCount < c.MinEditCount {
			continue
		}
		reg, err := time.Parse(time.RFC3339, local.Registration)
		if err != nil {
			continue
		}
		if !reg.After(cutoff) {
			return true
		}
	}
	return false
}

func (c *Client) wikiCounts(wiki string) bool {
	if len(c.Wikis) == 0 {
		return true
	}
	for _, w := range c.Wikis {
		if w == wiki {
			return true
		}
	}
	return false
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
