/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package slack posts slow query patterns to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/model"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
	"github.com/traas-stack/slowquery-agent/pkg/util"
	"go.uber.org/multierr"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	iconEmoji      = ":female-detective:"
	attachColor    = "#4B8B3B"
	maxMessageSize = 2000
	requestTimeout = 10 * time.Second
)

type (
	SlackOutput struct {
		cfg     appconfig.SlackConfig
		sink    *output.HttpSink
		limiter ratelimit.Limiter
		// muted holds the keys of patterns posted within MuteWindow
		muted *cache.Cache
	}

	message struct {
		Channel     string       `json:"channel"`
		Text        string       `json:"text"`
		IconEmoji   string       `json:"icon_emoji,omitempty"`
		Username    string       `json:"username,omitempty"`
		Attachments []attachment `json:"attachments"`
	}
	attachment struct {
		Text    string   `json:"text"`
		Color   string   `json:"color"`
		Fields  []field  `json:"fields"`
		Actions []action `json:"actions,omitempty"`
	}
	field struct {
		Title string `json:"title"`
		Value string `json:"value"`
		Short bool   `json:"short"`
	}
	action struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Url  string `json:"url"`
	}
	apiResponse struct {
		Ok    bool   `json:"ok"`
		Error string `json:"error"`
	}
)

func NewSlackOutput(cfg appconfig.SlackConfig) (*SlackOutput, error) {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil, errors.New("slack output requires token and channel")
	}
	rate := cfg.RatePerSecond
	if rate <= 0 {
		rate = 1
	}
	mute := cfg.MuteWindow.Std()
	if mute <= 0 {
		mute = time.Hour
	}
	return &SlackOutput{
		cfg: cfg,
		sink: &output.HttpSink{
			Name:       output.SlackType,
			Client:     util.SharedDnsCacheHelper().NewHttpClient(requestTimeout),
			MaxRetries: cfg.MaxRetries,
			Backoff:    output.NewBackoff(),
		},
		limiter: ratelimit.New(rate),
		muted:   cache.New(mute, 2*mute),
	}, nil
}

func (s *SlackOutput) Name() string {
	return output.SlackType
}

func (s *SlackOutput) Start() {
}

func (s *SlackOutput) Stop() {
}

// Write posts one message per pattern at or above MinExecMillis that is not muted.
func (s *SlackOutput) Write(ctx context.Context, r *model.Report) error {
	var err error
	posted := 0
	for _, p := range r.Patterns {
		if p.MaxExecMillis < s.cfg.MinExecMillis {
			continue
		}
		if _, found := s.muted.Get(p.Key); found {
			continue
		}
		if e := s.post(ctx, s.buildMessage(r, p)); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "post pattern %s", p.Key))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		s.muted.SetDefault(p.Key, struct{}{})
		posted++
	}
	logger.Infoz("[output] [slack] write", zap.String("scanId", r.ScanID), zap.Int("posted", posted))
	return err
}

func (s *SlackOutput) post(ctx context.Context, msg *message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.limiter.Take()
	endpoint := strings.TrimRight(s.cfg.ApiUrl, "/") + "/chat.postMessage"
	body, err := s.sink.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		return req, nil
	})
	if err != nil {
		return err
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, "decode slack response")
	}
	if !resp.Ok {
		return &output.APIError{Output: output.SlackType, StatusCode: http.StatusOK, Body: resp.Error}
	}
	return nil
}

func (s *SlackOutput) detailUrl(key string, extra string) string {
	u := fmt.Sprintf("%s/app/SlowQuery/Detail?pattern=%s", strings.TrimRight(s.cfg.DashboardUrl, "/"), url.QueryEscape(key))
	if extra != "" {
		u += "&" + extra
	}
	return u
}

func (s *SlackOutput) buildMessage(r *model.Report, p *model.PatternStat) *message {
	title := fmt.Sprintf(":snail: *%s* on `%s.%s` seen %s times", p.Operation, p.Database, p.Target, humanize.Comma(p.Count))
	sample := truncate(p.Sample, maxMessageSize)
	att := attachment{
		Text:  title,
		Color: attachColor,
		Fields: []field{
			{Title: "Area", Value: r.Area, Short: true},
			{Title: "Command", Value: p.CommandType, Short: true},
			{Title: "Database", Value: p.Database, Short: true},
			{Title: "Exec Time", Value: humanize.Comma(p.MaxExecMillis) + " ms", Short: true},
			{Title: "Pattern", Value: "`" + p.NormalizedQuery + "`", Short: false},
			{Title: "Message", Value: sample, Short: false},
		},
	}
	if s.cfg.DashboardUrl != "" {
		att.Actions = []action{
			{Type: "button", Text: ":mag: Dashboard", Url: s.detailUrl(p.Key, "")},
			{Type: "button", Text: ":jira: Send To JIRA", Url: s.detailUrl(p.Key, "jira=true")},
			{Type: "button", Text: ":mute: Mute", Url: s.detailUrl(p.Key, "mute=true")},
		}
	}
	return &message{
		Channel:     s.cfg.Channel,
		IconEmoji:   iconEmoji,
		Username:    s.cfg.Username,
		Attachments: []attachment{att},
	}
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
