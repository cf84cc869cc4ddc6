/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package confluence keeps one Confluence page per slow query pattern.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/model"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
	"github.com/traas-stack/slowquery-agent/pkg/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	requestTimeout = 15 * time.Second
	defaultRetries = 3
)

type (
	ConfluenceOutput struct {
		cfg  appconfig.ConfluenceConfig
		sink *output.HttpSink
		// pages maps a page title to its id once it is known to exist
		pages *cache.Cache
	}

	searchResponse struct {
		Results []struct {
			Id    string `json:"id"`
			Title string `json:"title"`
		} `json:"results"`
	}
	createRequest struct {
		Type      string     `json:"type"`
		Title     string     `json:"title"`
		Space     space      `json:"space"`
		Ancestors []ancestor `json:"ancestors,omitempty"`
		Body      body       `json:"body"`
	}
	space struct {
		Key string `json:"key"`
	}
	ancestor struct {
		Id string `json:"id"`
	}
	body struct {
		Storage storage `json:"storage"`
	}
	storage struct {
		Value          string `json:"value"`
		Representation string `json:"representation"`
	}
	createResponse struct {
		Id string `json:"id"`
	}
)

func NewConfluenceOutput(cfg appconfig.ConfluenceConfig) (*ConfluenceOutput, error) {
	if cfg.BaseUrl == "" || cfg.SpaceKey == "" {
		return nil, errors.New("confluence output requires baseUrl and spaceKey")
	}
	return &ConfluenceOutput{
		cfg: cfg,
		sink: &output.HttpSink{
			Name:       output.ConfluenceType,
			Client:     util.SharedDnsCacheHelper().NewHttpClient(requestTimeout),
			MaxRetries: defaultRetries,
			Backoff:    output.NewBackoff(),
		},
		pages: cache.New(cache.NoExpiration, 0),
	}, nil
}

func (c *ConfluenceOutput) Name() string {
	return output.ConfluenceType
}

func (c *ConfluenceOutput) Start() {
}

func (c *ConfluenceOutput) Stop() {
}

func (c *ConfluenceOutput) title(p *model.PatternStat) string {
	return c.cfg.TitlePrefix + p.Key
}

// Write creates a page for every pattern that has none yet. Existing pages are left untouched.
func (c *ConfluenceOutput) Write(ctx context.Context, r *model.Report) error {
	var err error
	created := 0
	for _, p := range r.Patterns {
		title := c.title(p)
		if _, ok := c.pages.Get(title); ok {
			continue
		}
		id, e := c.find(ctx, title)
		if e == nil && id == "" {
			id, e = c.create(ctx, title, renderPage(r, p))
			if e == nil {
				created++
			}
		}
		if e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "page %s", title))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.pages.Set(title, id, cache.NoExpiration)
	}
	logger.Infoz("[output] [confluence] write", zap.String("scanId", r.ScanID), zap.Int("created", created))
	return err
}

func (c *ConfluenceOutput) endpoint() string {
	return strings.TrimRight(c.cfg.BaseUrl, "/") + "/rest/api/content"
}

func (c *ConfluenceOutput) newRequest(ctx context.Context, method, u string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
	}
	return req, nil
}

// find returns the id of the page titled title, or "" when there is none.
func (c *ConfluenceOutput) find(ctx context.Context, title string) (string, error) {
	q := url.Values{}
	q.Set("title", title)
	q.Set("spaceKey", c.cfg.SpaceKey)
	q.Set("type", "page")
	q.Set("limit", "1")
	u := c.endpoint() + "?" + q.Encode()
	b, err := c.sink.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return "", err
	}
	var resp searchResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", errors.Wrap(err, "decode search response")
	}
	for _, r := range resp.Results {
		if r.Title == title {
			return r.Id, nil
		}
	}
	return "", nil
}

func (c *ConfluenceOutput) create(ctx context.Context, title, value string) (string, error) {
	req := createRequest{
		Type:  "page",
		Title: title,
		Space: space{Key: c.cfg.SpaceKey},
		Body:  body{Storage: storage{Value: value, Representation: "storage"}},
	}
	if c.cfg.AncestorId != "" {
		req.Ancestors = []ancestor{{Id: c.cfg.AncestorId}}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	b, err := c.sink.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.endpoint(), payload)
	})
	if err != nil {
		return "", err
	}
	var resp createResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", errors.Wrap(err, "decode create response")
	}
	logger.Infoz("[output] [confluence] page created", zap.String("title", title), zap.String("id", resp.Id))
	return resp.Id, nil
}

func renderPage(r *model.Report, p *model.PatternStat) string {
	var sb strings.Builder
	sb.WriteString("<table><tbody>")
	row := func(k, v string) {
		fmt.Fprintf(&sb, "<tr><th>%s</th><td>%s</td></tr>", k, html.EscapeString(v))
	}
	row("Area", r.Area)
	row("Command", p.CommandType)
	row("Database", p.Database)
	row("Operation", p.Operation)
	row("Collection", p.Target)
	row("Count", humanize.Comma(p.Count))
	row("Max Exec Time", humanize.Comma(p.MaxExecMillis)+" ms")
	row("Avg Exec Time", humanize.Comma(p.AvgExecMillis())+" ms")
	if !p.FirstSeen.IsZero() {
		row("First Seen", p.FirstSeen.UTC().Format(time.RFC3339))
	}
	sb.WriteString("</tbody></table>")
	sb.WriteString("<h2>Pattern</h2>")
	sb.WriteString(codeMacro(p.NormalizedQuery))
	sb.WriteString("<h2>Sample</h2>")
	sb.WriteString(codeMacro(p.Sample))
	return sb.String()
}

func codeMacro(s string) string {
	// "]]>" cannot appear inside CDATA
	s = strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
	return `<ac:structured-macro ac:name="code"><ac:plain-text-body><![CDATA[` + s + `]]></ac:plain-text-body></ac:structured-macro>`
}
