/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logsource

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	aliyunsls "github.com/aliyun/aliyun-log-go-sdk"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
	"github.com/traas-stack/slowquery-agent/pkg/util"
	"go.uber.org/zap"
)

type (
	// slsClient is the subset of aliyunsls.ClientInterface used by SlsSource
	slsClient interface {
		GetCursor(project, logstore string, shardID int, from string) (string, error)
		PullLogs(project, logstore string, shardID int, cursor, endCursor string, logGroupMaxCount int) (*aliyunsls.LogGroupList, string, error)
		Close() error
	}
	SlsSource struct {
		cfg    appconfig.SlsSourceConfig
		client slsClient
		parser func(string) (*logparser.Record, error)
		retry  *backoff.Backoff
	}
)

// slsSecret falls back to env SLS_SECRET=<ak>,<sk>
func slsSecret(cfg appconfig.SlsSourceConfig) (string, string) {
	if cfg.AccessKeyId != "" && cfg.AccessKeySecret != "" {
		return cfg.AccessKeyId, cfg.AccessKeySecret
	}
	ss := strings.Split(strings.TrimSpace(os.Getenv("SLS_SECRET")), ",")
	if len(ss) == 2 {
		return ss[0], ss[1]
	}
	return "", ""
}

func NewSlsSource(cfg appconfig.SlsSourceConfig) (*SlsSource, error) {
	if cfg.Endpoint == "" || cfg.Project == "" || cfg.Logstore == "" {
		return nil, errors.New("sls source requires endpoint, project and logstore")
	}
	ak, sk := slsSecret(cfg)
	client := &aliyunsls.Client{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     ak,
		AccessKeySecret: sk,
		RequestTimeOut:  5 * time.Second,
		RetryTimeOut:    5 * time.Second,
		HTTPClient:      util.SharedDnsCacheHelper().NewHttpClient(0),
	}
	return newSlsSource(cfg, client), nil
}

func newSlsSource(cfg appconfig.SlsSourceConfig, client slsClient) *SlsSource {
	return &SlsSource{
		cfg:    cfg,
		client: client,
		parser: logparser.Parse,
		retry: &backoff.Backoff{
			Factor: 2,
			Jitter: true,
			Min:    time.Second,
			Max:    time.Minute,
		},
	}
}

func (s *SlsSource) Name() string {
	return fmt.Sprintf("sls:%s/%s/%d", s.cfg.Project, s.cfg.Logstore, s.cfg.Shard)
}

func (s *SlsSource) Run(ctx context.Context, out chan<- *logparser.Record) error {
	defer s.client.Close()

	cursor := ""
	for ctx.Err() == nil {
		if cursor == "" {
			c, err := s.client.GetCursor(s.cfg.Project, s.cfg.Logstore, s.cfg.Shard, s.cfg.From)
			if err != nil {
				logger.Errorz("[source] [sls] get cursor error", zap.String("source", s.Name()), zap.Error(err))
				if !sleep(ctx, s.retry.Duration()) {
					return nil
				}
				continue
			}
			cursor = c
		}

		lgs, next, err := s.client.PullLogs(s.cfg.Project, s.cfg.Logstore, s.cfg.Shard, cursor, "", s.cfg.PullSize)
		if err != nil {
			logger.Errorz("[source] [sls] pull logs error", zap.String("source", s.Name()), zap.Error(err))
			if !sleep(ctx, s.retry.Duration()) {
				return nil
			}
			continue
		}
		s.retry.Reset()

		if next == cursor || lgs == nil {
			if !sleep(ctx, s.cfg.PullInterval.Std()) {
				return nil
			}
			continue
		}

		for _, lg := range lgs.LogGroups {
			for _, log := range lg.Logs {
				r := s.toRecord(log)
				if r == nil {
					continue
				}
				if !emit(ctx, out, r) {
					return nil
				}
			}
		}
		cursor = next
	}
	return nil
}

func (s *SlsSource) toRecord(log *aliyunsls.Log) *logparser.Record {
	contents := make(map[string]string, len(log.Contents))
	for _, c := range log.Contents {
		contents[c.GetKey()] = c.GetValue()
	}
	content := contents[s.cfg.ContentKey]
	if content == "" {
		return nil
	}

	r, err := s.parser(content)
	if err != nil {
		// structured logs can still carry the classification inputs in separate keys
		_, hasCommandType := contents[s.cfg.CommandTypeKey]
		_, hasDatabase := contents[s.cfg.DatabaseKey]
		if !(s.cfg.CommandTypeKey != "" && hasCommandType) && !(s.cfg.DatabaseKey != "" && hasDatabase) {
			logger.Debugz("[source] [sls] skip log", zap.String("content", content), zap.Error(err))
			return nil
		}
		r = &logparser.Record{Message: content}
	}
	if r.Time.IsZero() && log.GetTime() > 0 {
		r.Time = time.Unix(int64(log.GetTime()), 0)
	}
	if v, ok := contents[s.cfg.CommandTypeKey]; ok && s.cfg.CommandTypeKey != "" {
		r.CommandType = v
	}
	if v, ok := contents[s.cfg.DatabaseKey]; ok && s.cfg.DatabaseKey != "" {
		r.Database = v
	}
	if v, ok := contents[s.cfg.ExecMillisKey]; ok && s.cfg.ExecMillisKey != "" {
		r.ExecMillis = cast.ToInt64(v)
	}
	return r
}
