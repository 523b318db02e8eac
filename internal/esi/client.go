package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public ESI endpoint used when Options.BaseURL is empty.
	DefaultBaseURL = "https://esi.evetech.net/latest"
	userAgent      = "minmatar-fleet/1.0 (industry)"
)

// ErrNotFound is returned when ESI answers 404 for a resource.
var ErrNotFound = errors.New("esi: not found")

// TypeInfo is the subset of /universe/types/{id}/ the industry engine needs,
// with the category resolved through the type's group.
type TypeInfo struct {
	TypeID     int32  `json:"type_id"`
	Name       string `json:"name"`
	GroupID    int32  `json:"group_id"`
	CategoryID int32  `json:"category_id"`
	Published  bool   `json:"published"`
}

// TypeClient is the ESI capability the type catalog depends on.
type TypeClient interface {
	GetType(ctx context.Context, typeID int32) (*TypeInfo, error)
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	group   singleflight.Group

	mu              sync.RWMutex
	groupCategories map[int32]int32 // groupID -> categoryID
}

// Options configures NewClient. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// NewClient creates an ESI client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		http:            &http.Client{Timeout: opts.Timeout},
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		limiter:         rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		groupCategories: make(map[int32]int32),
	}
}

// GetType fetches a type and resolves its category. Concurrent calls for the
// same type share one request; each caller still returns as soon as its own
// context is done.
func (c *Client) GetType(ctx context.Context, typeID int32) (*TypeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The shared fetch must not inherit one caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.Itoa(int(typeID)), func() (interface{}, error) {
		var t struct {
			TypeID    int32  `json:"type_id"`
			Name      string `json:"name"`
			GroupID   int32  `json:"group_id"`
			Published bool   `json:"published"`
		}
		url := fmt.Sprintf("%s/universe/types/%d/?datasource=tranquility&language=en", c.baseURL, typeID)
		if err := c.GetJSON(fetchCtx, url, &t); err != nil {
			return nil, fmt.Errorf("get type %d: %w", typeID, err)
		}
		categoryID, err := c.categoryForGroup(fetchCtx, t.GroupID)
		if err != nil {
			return nil, fmt.Errorf("get group %d: %w", t.GroupID, err)
		}
		return &TypeInfo{
			TypeID:     typeID,
			Name:       t.Name,
			GroupID:    t.GroupID,
			CategoryID: categoryID,
			Published:  t.Published,
		}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TypeInfo), nil
	}
}

func (c *Client) categoryForGroup(ctx context.Context, groupID int32) (int32, error) {
	if groupID == 0 {
		return 0, nil
	}
	c.mu.RLock()
	cat, ok := c.groupCategories[groupID]
	c.mu.RUnlock()
	if ok {
		return cat, nil
	}

	var g struct {
		CategoryID int32 `json:"category_id"`
	}
	url := fmt.Sprintf("%s/universe/groups/%d/?datasource=tranquility", c.baseURL, groupID)
	if err := c.GetJSON(ctx, url, &g); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.groupCategories[groupID] = g.CategoryID
	c.mu.Unlock()
	return g.CategoryID, nil
}

// GetJSON fetches a URL and decodes JSON into dst, waiting on the rate limiter first.
func (c *Client) GetJSON(ctx context.Context, url string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ESI %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
