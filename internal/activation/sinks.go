package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/straja-ai/liverstage/internal/config"
)

// BuildSinks turns sink config entries into sinks. With no entries, events
// go to stdout unless the level is none.
func BuildSinks(cfgs []config.SinkConfig, level string) ([]Sink, error) {
	if strings.EqualFold(strings.TrimSpace(level), LevelNone) {
		return nil, nil
	}
	if len(cfgs) == 0 {
		return []Sink{StdoutSink{}}, nil
	}

	sinks := make([]Sink, 0, len(cfgs))
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
	}
	for i, c := range cfgs {
		switch strings.ToLower(strings.TrimSpace(c.Type)) {
		case "stdout":
			sinks = append(sinks, StdoutSink{})
		case "file_jsonl":
			s, err := NewFileSink(c.Path)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("activation sink %d: %w", i, err)
			}
			sinks = append(sinks, s)
		case "webhook":
			s, err := NewWebhookSink(c.URL, c.Headers, c.Timeout)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("activation sink %d: %w", i, err)
			}
			sinks = append(sinks, s)
		default:
			closeAll()
			return nil, fmt.Errorf("activation sink %d has unknown type %q", i, c.Type)
		}
	}
	return sinks, nil
}
