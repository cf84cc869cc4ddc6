package logsource

import (
	"context"
	"sync"
	"testing"
	"time"

	aliyunsls "github.com/aliyun/aliyun-log-go-sdk"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
)

type fakeSlsClient struct {
	mutex   sync.Mutex
	pages   []*aliyunsls.LogGroupList
	failFor int
	from    string
	closed  bool
}

func (f *fakeSlsClient) GetCursor(project, logstore string, shardID int, from string) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.from = from
	return "0", nil
}

func (f *fakeSlsClient) PullLogs(project, logstore string, shardID int, cursor, endCursor string, logGroupMaxCount int) (*aliyunsls.LogGroupList, string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return nil, "", errors.New("throttled")
	}
	i := cast.ToInt(cursor)
	if i >= len(f.pages) {
		return &aliyunsls.LogGroupList{}, cursor, nil
	}
	return f.pages[i], cast.ToString(i + 1), nil
}

func (f *fakeSlsClient) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
	return nil
}

func slsLog(ts uint32, kv ...string) *aliyunsls.Log {
	log := &aliyunsls.Log{Time: &ts}
	for i := 0; i+1 < len(kv); i += 2 {
		k, v := kv[i], kv[i+1]
		log.Contents = append(log.Contents, &aliyunsls.LogContent{Key: &k, Value: &v})
	}
	return log
}

func TestSlsSource_Run(t *testing.T) {
	logger.TestMode()
	client := &fakeSlsClient{
		failFor: 1,
		pages: []*aliyunsls.LogGroupList{
			{LogGroups: []*aliyunsls.LogGroup{{Logs: []*aliyunsls.Log{
				slsLog(1690000000, "content", findLine),
				slsLog(1690000000, "content", noiseLine),
			}}}},
			{LogGroups: []*aliyunsls.LogGroup{{Logs: []*aliyunsls.Log{
				slsLog(1690000001, "content", `{"msg":"Slow query","attr":{"command":{"find":"orders"}}}`, "op", "query", "db", "shop", "ms", "250"),
				slsLog(1690000002, "other", "x"),
			}}}},
		},
	}
	cfg := appconfig.SlsSourceConfig{
		Project:        "p",
		Logstore:       "l",
		Shard:          1,
		From:           "begin",
		ContentKey:     "content",
		CommandTypeKey: "op",
		DatabaseKey:    "db",
		ExecMillisKey:  "ms",
		PullSize:       100,
		PullInterval:   appconfig.Duration(10 * time.Millisecond),
	}
	src := newSlsSource(cfg, client)
	src.retry.Min = time.Millisecond
	src.retry.Max = 10 * time.Millisecond
	assert.Equal(t, "sls:p/l/1", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *logparser.Record, 10)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, ch) }()

	got := collect(t, ch, 2)
	assert.Equal(t, "command", got[0].CommandType)
	assert.Equal(t, "shop", got[0].Database)
	assert.Equal(t, int64(150), got[0].ExecMillis)

	assert.Equal(t, "query", got[1].CommandType)
	assert.Equal(t, "shop", got[1].Database)
	assert.Equal(t, int64(250), got[1].ExecMillis)
	assert.Equal(t, time.Unix(1690000001, 0), got[1].Time)

	cancel()
	require.NoError(t, <-done)
	client.mutex.Lock()
	defer client.mutex.Unlock()
	assert.True(t, client.closed)
	assert.Equal(t, "begin", client.from)
}

func TestSlsSource_SkipUnparsed(t *testing.T) {
	src := newSlsSource(appconfig.SlsSourceConfig{ContentKey: "content"}, &fakeSlsClient{})
	assert.Nil(t, src.toRecord(slsLog(1, "content", "not a mongod line")))
	assert.Nil(t, src.toRecord(slsLog(1, "other", findLine)))
	r := src.toRecord(slsLog(1, "content", findLine))
	require.NotNil(t, r)
	assert.Equal(t, "orders", r.Collection)
}
