package logsource

import (
	"context"
	"errors"
	"os"

	"github.com/shortontech/gotriage/internal/assets"
	"github.com/shortontech/gotriage/internal/event"
)

// StaticSource serves the embedded mock batch.
type StaticSource struct {
	data []byte
}

func NewStaticSource() *StaticSource {
	return &StaticSource{data: assets.MockLogsJSON}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(ctx context.Context) ([]event.Event, error) {
	events, err := event.DecodeBatch(s.data)
	if err != nil {
		return nil, fetchErr("static batch", err)
	}
	return events, nil
}

// FileSource re-reads a JSON array file on every fetch.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Fetch(ctx context.Context) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchErr(s.Path, err)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fetchErr("read "+s.Path, err)
	}
	events, err := event.DecodeBatch(data)
	if err != nil {
		return nil, fetchErr("decode "+s.Path, err)
	}
	return events, nil
}

// Raw returns the bytes the source would decode, for serving /logs.
func Raw(src Source) ([]byte, error) {
	switch s := src.(type) {
	case *StaticSource:
		return s.data, nil
	case *FileSource:
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fetchErr("read "+s.Path, err)
		}
		return data, nil
	}
	return nil, fetchErr(src.Name(), errors.New("source has no raw form"))
}
