package logsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	findLine   = `2023-07-22T10:00:00.000+0000 I COMMAND  [conn12] command shop.orders command: find { find: "orders", filter: {status: "pending"} } planSummary: COLLSCAN 150ms`
	removeLine = `2023-07-22T10:00:01.000+0000 I WRITE    [conn5] remove shop.carts query: { _id: 1 } ndeleted:1 320ms`
	noiseLine  = `2023-07-22T10:00:02.000+0000 I NETWORK  [listener] connection accepted from 10.0.0.1:5000 #1`
)

func collect(t *testing.T, ch <-chan *logparser.Record, n int) []*logparser.Record {
	var ret []*logparser.Record
	for len(ret) < n {
		select {
		case r := <-ch:
			ret = append(ret, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for record %d", len(ret))
		}
	}
	return ret
}

func TestFileSource_Once(t *testing.T) {
	logger.TestMode()
	path := filepath.Join(t.TempDir(), "mongod.log")
	require.NoError(t, os.WriteFile(path, []byte(findLine+"\n"+noiseLine+"\n\n"+removeLine), 0644))

	src := NewFileSource(appconfig.FileSourceConfig{Path: path})
	assert.Equal(t, "file:"+path, src.Name())

	ch := make(chan *logparser.Record, 10)
	require.NoError(t, src.Run(context.Background(), ch))
	close(ch)

	var got []*logparser.Record
	for r := range ch {
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "command", got[0].CommandType)
	assert.Equal(t, findLine, got[0].Message)
	assert.Equal(t, "remove", got[1].CommandType)
	assert.Equal(t, int64(320), got[1].ExecMillis)
}

func TestFileSource_Charset(t *testing.T) {
	logger.TestMode()
	line := `2023-07-22T10:00:00.000+0000 I COMMAND  [conn12] command shop.orders command: find { find: "orders", filter: {name: "张三"} } 150ms`
	gbk, err := simplifiedchinese.GB18030.NewEncoder().String(line + "\n")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mongod.log")
	require.NoError(t, os.WriteFile(path, []byte(gbk), 0644))

	ch := make(chan *logparser.Record, 10)
	require.NoError(t, NewFileSource(appconfig.FileSourceConfig{Path: path, Charset: "GBK"}).Run(context.Background(), ch))
	got := collect(t, ch, 1)
	assert.Equal(t, line, got[0].Message)
}

func TestFileSource_Follow(t *testing.T) {
	logger.TestMode()
	path := filepath.Join(t.TempDir(), "mongod.log")
	require.NoError(t, os.WriteFile(path, []byte(findLine+"\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewFileSource(appconfig.FileSourceConfig{
		Path:         path,
		Follow:       true,
		PollInterval: appconfig.Duration(10 * time.Millisecond),
		Charset:      "UTF-8",
	})
	ch := make(chan *logparser.Record, 10)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, ch) }()

	assert.Equal(t, "command", collect(t, ch, 1)[0].CommandType)

	// append: half a line first, then the rest
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(removeLine[:20])
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = f.WriteString(removeLine[20:] + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	got := collect(t, ch, 1)[0]
	assert.Equal(t, removeLine, got.Message)

	// truncate
	short := `2023-07-22T10:00:03.000+0000 I COMMAND  [c] query a.b x 101ms`
	require.NoError(t, os.WriteFile(path, []byte(short+"\n"), 0644))
	got = collect(t, ch, 1)[0]
	assert.Equal(t, "query", got.CommandType)
	assert.Equal(t, "a", got.Database)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestNew(t *testing.T) {
	_, err := New(appconfig.SourceConfig{Type: appconfig.SourceTypeFile})
	assert.Error(t, err)

	_, err = New(appconfig.SourceConfig{Type: "kafka"})
	assert.Error(t, err)

	_, err = New(appconfig.SourceConfig{Type: appconfig.SourceTypeSls})
	assert.Error(t, err)

	s, err := New(appconfig.SourceConfig{Type: appconfig.SourceTypeFile, File: appconfig.FileSourceConfig{Path: "/tmp/x.log"}})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, s)
}
