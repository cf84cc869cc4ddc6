/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package appconfig holds the process level configuration. It is the first thing initialized
// and must not depend on other business packages.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var agentVersion string
var agentBuildTime string
var gitcommit string

const (
	SourceTypeFile = "file"
	SourceTypeSls  = "sls"

	envPrefix = "SQ_"
)

var (
	StdAgentConfig = AgentConfig{}
)

type (
	// Duration accepts "5s", "1m" or a plain number of nanoseconds in both yaml and toml.
	Duration time.Duration

	AgentConfig struct {
		// Area names the deployment (region, cluster) the scanned logs come from
		Area    string        `json:"area" yaml:"area" toml:"area"`
		Version string        `json:"version" yaml:"-" toml:"-"`
		Http    HttpConfig    `json:"http" yaml:"http" toml:"http"`
		Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
		Source  SourceConfig  `json:"source" yaml:"source" toml:"source"`
		Scan    ScanConfig    `json:"scan" yaml:"scan" toml:"scan"`
		Catalog CatalogConfig `json:"catalog" yaml:"catalog" toml:"catalog"`
		Output  OutputConfig  `json:"output" yaml:"output" toml:"output"`
	}
	HttpConfig struct {
		Addr string `json:"addr" yaml:"addr" toml:"addr"`
	}
	LogConfig struct {
		Dir    string `json:"dir" yaml:"dir" toml:"dir"`
		Stdout bool   `json:"stdout" yaml:"stdout" toml:"stdout"`
		// File disables rotating log files when false; logs then go to stdout only
		File bool `json:"file" yaml:"file" toml:"file"`
	}
	SourceConfig struct {
		// file or sls
		Type string           `json:"type" yaml:"type" toml:"type"`
		File FileSourceConfig `json:"file" yaml:"file" toml:"file"`
		Sls  SlsSourceConfig  `json:"sls" yaml:"sls" toml:"sls"`
	}
	FileSourceConfig struct {
		Path string `json:"path" yaml:"path" toml:"path"`
		// Follow keeps reading appended lines after EOF
		Follow       bool     `json:"follow" yaml:"follow" toml:"follow"`
		PollInterval Duration `json:"pollInterval" yaml:"pollInterval" toml:"pollInterval"`
		// Charset forces a decoder, empty means detect
		Charset string `json:"charset" yaml:"charset" toml:"charset"`
	}
	SlsSourceConfig struct {
		Endpoint        string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
		AccessKeyId     string `json:"accessKeyId" yaml:"accessKeyId" toml:"accessKeyId"`
		AccessKeySecret string `json:"-" yaml:"accessKeySecret" toml:"accessKeySecret"`
		Project         string `json:"project" yaml:"project" toml:"project"`
		Logstore        string `json:"logstore" yaml:"logstore" toml:"logstore"`
		Shard           int    `json:"shard" yaml:"shard" toml:"shard"`
		// From is where a new cursor starts: begin, end or a unix timestamp in seconds
		From string `json:"from" yaml:"from" toml:"from"`
		// ContentKey is the log content key carrying the raw mongod line
		ContentKey     string   `json:"contentKey" yaml:"contentKey" toml:"contentKey"`
		CommandTypeKey string   `json:"commandTypeKey" yaml:"commandTypeKey" toml:"commandTypeKey"`
		DatabaseKey    string   `json:"databaseKey" yaml:"databaseKey" toml:"databaseKey"`
		ExecMillisKey  string   `json:"execMillisKey" yaml:"execMillisKey" toml:"execMillisKey"`
		PullSize       int      `json:"pullSize" yaml:"pullSize" toml:"pullSize"`
		PullInterval   Duration `json:"pullInterval" yaml:"pullInterval" toml:"pullInterval"`
	}
	ScanConfig struct {
		Workers                 int      `json:"workers" yaml:"workers" toml:"workers"`
		SlowThresholdMs         int64    `json:"slowThresholdMs" yaml:"slowThresholdMs" toml:"slowThresholdMs"`
		FlushInterval           Duration `json:"flushInterval" yaml:"flushInterval" toml:"flushInterval"`
		QuietPeriod             Duration `json:"quietPeriod" yaml:"quietPeriod" toml:"quietPeriod"`
		MaxUnclassifiedPatterns int      `json:"maxUnclassifiedPatterns" yaml:"maxUnclassifiedPatterns" toml:"maxUnclassifiedPatterns"`
	}
	CatalogConfig struct {
		// Path of a yaml catalog, empty means the built-in one
		Path string `json:"path" yaml:"path" toml:"path"`
	}
	OutputConfig struct {
		Types      []string         `json:"types" yaml:"types" toml:"types"`
		Slack      SlackConfig      `json:"slack" yaml:"slack" toml:"slack"`
		Confluence ConfluenceConfig `json:"confluence" yaml:"confluence" toml:"confluence"`
	}
	SlackConfig struct {
		ApiUrl        string   `json:"apiUrl" yaml:"apiUrl" toml:"apiUrl"`
		Token         string   `json:"-" yaml:"token" toml:"token"`
		Channel       string   `json:"channel" yaml:"channel" toml:"channel"`
		Username      string   `json:"username" yaml:"username" toml:"username"`
		DashboardUrl  string   `json:"dashboardUrl" yaml:"dashboardUrl" toml:"dashboardUrl"`
		MinExecMillis int64    `json:"minExecMillis" yaml:"minExecMillis" toml:"minExecMillis"`
		MuteWindow    Duration `json:"muteWindow" yaml:"muteWindow" toml:"muteWindow"`
		// RatePerSecond bounds chat.postMessage calls
		RatePerSecond int `json:"ratePerSecond" yaml:"ratePerSecond" toml:"ratePerSecond"`
		MaxRetries    int `json:"maxRetries" yaml:"maxRetries" toml:"maxRetries"`
	}
	ConfluenceConfig struct {
		BaseUrl    string `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
		Username   string `json:"username" yaml:"username" toml:"username"`
		Token      string `json:"-" yaml:"token" toml:"token"`
		SpaceKey   string `json:"spaceKey" yaml:"spaceKey" toml:"spaceKey"`
		AncestorId string `json:"ancestorId" yaml:"ancestorId" toml:"ancestorId"`
		// TitlePrefix is prepended to the pattern key to build page titles
		TitlePrefix string `json:"titlePrefix" yaml:"titlePrefix" toml:"titlePrefix"`
	}
)

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := cast.ToDurationE(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SetupAppConfig loads StdAgentConfig from the working directory.
func SetupAppConfig() error {
	c, err := LoadAgentConfig(".")
	if err != nil {
		return err
	}
	StdAgentConfig = *c
	return nil
}

// LoadAgentConfig reads agent.yaml (or conf/agent.yaml) then agent.toml (or conf/agent.toml)
// under baseDir, applies SQ_* env overrides and fills defaults. Missing files are not an error.
func LoadAgentConfig(baseDir string) (*AgentConfig, error) {
	c := &AgentConfig{}

	if b, path, err := readFirst(baseDir, "agent.yaml", "conf/agent.yaml"); err != nil {
		return nil, err
	} else if b != nil {
		fmt.Printf("read %s\n", path)
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "fail to parse %s", path)
		}
	}

	if b, path, err := readFirst(baseDir, "agent.toml", "conf/agent.toml"); err != nil {
		return nil, err
	} else if b != nil {
		fmt.Printf("read %s\n", path)
		if err := toml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "fail to parse %s", path)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	c.Version = agentVersion
	return c, nil
}

func readFirst(baseDir string, names ...string) ([]byte, string, error) {
	for _, name := range names {
		path := filepath.Join(baseDir, name)
		b, err := os.ReadFile(path)
		if err == nil {
			return b, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, path, errors.Wrapf(err, "read %s", path)
		}
	}
	return nil, "", nil
}

func (c *AgentConfig) applyEnv() error {
	str := func(key string, target *string) {
		if s := os.Getenv(envPrefix + key); s != "" {
			*target = s
		}
	}
	var errs []string
	integer := func(key string, target *int64) {
		if s := os.Getenv(envPrefix + key); s != "" {
			v, err := cast.ToInt64E(s)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*target = v
		}
	}

	str("AREA", &c.Area)
	str("HTTP_ADDR", &c.Http.Addr)
	str("LOG_DIR", &c.Log.Dir)
	str("SOURCE_TYPE", &c.Source.Type)
	str("SOURCE_FILE_PATH", &c.Source.File.Path)
	if s := os.Getenv(envPrefix + "SOURCE_FILE_FOLLOW"); s != "" {
		c.Source.File.Follow = cast.ToBool(s)
	}
	str("SLS_ENDPOINT", &c.Source.Sls.Endpoint)
	str("SLS_ACCESS_KEY_ID", &c.Source.Sls.AccessKeyId)
	str("SLS_ACCESS_KEY_SECRET", &c.Source.Sls.AccessKeySecret)
	str("SLS_PROJECT", &c.Source.Sls.Project)
	str("SLS_LOGSTORE", &c.Source.Sls.Logstore)

	shard, workers := int64(c.Source.Sls.Shard), int64(c.Scan.Workers)
	integer("SLS_SHARD", &shard)
	integer("SCAN_WORKERS", &workers)
	integer("SCAN_SLOW_THRESHOLD_MS", &c.Scan.SlowThresholdMs)
	c.Source.Sls.Shard, c.Scan.Workers = int(shard), int(workers)

	str("CATALOG_PATH", &c.Catalog.Path)
	if s := os.Getenv(envPrefix + "OUTPUT_TYPES"); s != "" {
		c.Output.Types = splitList(s)
	}
	str("SLACK_TOKEN", &c.Output.Slack.Token)
	str("SLACK_CHANNEL", &c.Output.Slack.Channel)
	str("CONFLUENCE_USERNAME", &c.Output.Confluence.Username)
	str("CONFLUENCE_TOKEN", &c.Output.Confluence.Token)

	if len(errs) > 0 {
		return errors.Errorf("invalid integer env: %s", strings.Join(errs, ","))
	}
	return nil
}

func splitList(s string) []string {
	var ret []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

// ApplyDefaults fills every unset field that has a default.
func (c *AgentConfig) ApplyDefaults() {
	if c.Area == "" {
		c.Area = "default"
	}
	if c.Http.Addr == "" {
		c.Http.Addr = ":9117"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Source.Type == "" {
		c.Source.Type = SourceTypeFile
	}
	if c.Source.File.PollInterval <= 0 {
		c.Source.File.PollInterval = Duration(time.Second)
	}
	if c.Source.Sls.From == "" {
		c.Source.Sls.From = "end"
	}
	if c.Source.Sls.ContentKey == "" {
		c.Source.Sls.ContentKey = "content"
	}
	if c.Source.Sls.PullSize <= 0 {
		c.Source.Sls.PullSize = 1000
	}
	if c.Source.Sls.PullInterval <= 0 {
		c.Source.Sls.PullInterval = Duration(time.Second)
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 4
	}
	if c.Scan.SlowThresholdMs < 0 {
		c.Scan.SlowThresholdMs = 0
	}
	if c.Scan.FlushInterval <= 0 {
		c.Scan.FlushInterval = Duration(time.Minute)
	}
	if c.Scan.QuietPeriod <= 0 {
		c.Scan.QuietPeriod = Duration(5 * time.Second)
	}
	if c.Scan.MaxUnclassifiedPatterns <= 0 {
		c.Scan.MaxUnclassifiedPatterns = 64
	}
	if len(c.Output.Types) == 0 {
		c.Output.Types = []string{"console"}
	}
	if c.Output.Slack.ApiUrl == "" {
		c.Output.Slack.ApiUrl = "https://slack.com/api"
	}
	if c.Output.Slack.Username == "" {
		c.Output.Slack.Username = "slowquery"
	}
	if c.Output.Slack.MuteWindow <= 0 {
		c.Output.Slack.MuteWindow = Duration(time.Hour)
	}
	if c.Output.Slack.RatePerSecond <= 0 {
		c.Output.Slack.RatePerSecond = 1
	}
	if c.Output.Slack.MaxRetries <= 0 {
		c.Output.Slack.MaxRetries = 3
	}
	if c.Output.Confluence.TitlePrefix == "" {
		c.Output.Confluence.TitlePrefix = "SlowQuery "
	}
}
