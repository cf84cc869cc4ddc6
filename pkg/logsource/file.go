/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logsource

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
	"github.com/traas-stack/slowquery-agent/pkg/text"
	"go.uber.org/zap"
)

const (
	charsetPeekSize = 4096
)

type (
	FileSource struct {
		cfg    appconfig.FileSourceConfig
		parser func(string) (*logparser.Record, error)
	}
	countingReader struct {
		r io.Reader
		n int64
	}
	openedFile struct {
		f       *os.File
		info    os.FileInfo
		counter *countingReader
		charset string
		reader  *bufio.Reader
		// pending holds a trailing line that has no newline yet
		pending string
	}
)

func NewFileSource(cfg appconfig.FileSourceConfig) *FileSource {
	return &FileSource{cfg: cfg, parser: logparser.Parse}
}

func (s *FileSource) Name() string {
	return "file:" + s.cfg.Path
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *FileSource) open() (*openedFile, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.cfg.Path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", s.cfg.Path)
	}

	charset := s.cfg.Charset
	if charset == "" {
		head := make([]byte, charsetPeekSize)
		n, _ := io.ReadFull(f, head)
		charset = text.DetectCharset(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "seek %s", s.cfg.Path)
		}
	}
	logger.Infoz("[source] [file] open", zap.String("path", s.cfg.Path), zap.String("charset", charset))

	of := &openedFile{
		f:       f,
		info:    info,
		counter: &countingReader{r: f},
		charset: charset,
	}
	of.resetReader()
	return of, nil
}

// resetReader must be called after EOF: a decoding reader keeps returning EOF once it saw one.
func (of *openedFile) resetReader() {
	of.reader = bufio.NewReaderSize(text.NewDecodingReader(of.counter, of.charset), 64*1024)
}

func (s *FileSource) Run(ctx context.Context, out chan<- *logparser.Record) error {
	of, err := s.open()
	if err != nil {
		return err
	}
	defer func() { of.f.Close() }()

	for {
		if !s.drain(ctx, of, out, !s.cfg.Follow) {
			return nil
		}
		if !s.cfg.Follow {
			return nil
		}
		if !sleep(ctx, s.cfg.PollInterval.Std()) {
			return nil
		}

		info, err := os.Stat(s.cfg.Path)
		if err != nil {
			// rotated away and not recreated yet
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "stat %s", s.cfg.Path)
		}
		rotated := !os.SameFile(of.info, info)
		truncated := !rotated && info.Size() < of.counter.n
		if !rotated && !truncated {
			continue
		}
		logger.Infoz("[source] [file] reopen", zap.String("path", s.cfg.Path), zap.Bool("rotated", rotated), zap.Bool("truncated", truncated))
		if rotated {
			// lines appended to the old file before it was renamed
			if !s.drain(ctx, of, out, true) {
				return nil
			}
		}
		next, err := s.open()
		if err != nil {
			return err
		}
		of.f.Close()
		of = next
	}
}

// drain reads of until EOF. With flush the trailing line without newline is emitted too.
// It returns false when ctx is done.
func (s *FileSource) drain(ctx context.Context, of *openedFile, out chan<- *logparser.Record, flush bool) bool {
	for {
		line, err := of.reader.ReadString('\n')
		if err != nil {
			of.pending += line
			of.resetReader()
			if err != io.EOF {
				logger.Errorz("[source] [file] read error", zap.String("path", s.cfg.Path), zap.Error(err))
			}
			if flush && of.pending != "" {
				line, of.pending = of.pending, ""
				return s.handle(ctx, line, out)
			}
			return ctx.Err() == nil
		}
		if of.pending != "" {
			line, of.pending = of.pending+line, ""
		}
		if !s.handle(ctx, line, out) {
			return false
		}
	}
}

func (s *FileSource) handle(ctx context.Context, line string, out chan<- *logparser.Record) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return ctx.Err() == nil
	}
	r, err := s.parser(line)
	if err != nil {
		logger.Debugz("[source] [file] skip line", zap.String("line", line), zap.Error(err))
		return ctx.Err() == nil
	}
	return emit(ctx, out, r)
}
