package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"gatewaylens/internal/config"
)

var errEmptyMessage = errors.New("empty kafka message")

// StartKafka consumes whole batches from a topic and submits each message as
// one upload. It returns once the reader goroutine is running.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, sub Submitter, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 100e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			up, err := decodeMessage(m)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka message skipped", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			file, err := sub.Submit(ctx, up)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka upload rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			if logger != nil {
				logger.Info("kafka upload submitted", "file_id", file.ID, "offset", m.Offset)
			}
		}
	}()
}

// decodeMessage accepts either a JSON envelope
// {"filename": ..., "owner": ..., "content": ...} or raw log text, in which
// case the message key names the file.
func decodeMessage(m kafka.Message) (Upload, error) {
	if len(m.Value) == 0 {
		return Upload{}, errEmptyMessage
	}
	fallback := fmt.Sprintf("kafka-%d-%d.log", m.Partition, m.Offset)
	if gjson.ValidBytes(m.Value) {
		env := gjson.ParseBytes(m.Value)
		if env.IsObject() {
			content := env.Get("content")
			if !content.Exists() || content.String() == "" {
				return Upload{}, errors.New("kafka envelope without content")
			}
			name := env.Get("filename").String()
			if name == "" {
				name = fallback
			}
			return Upload{Filename: name, Owner: env.Get("owner").String(), Data: []byte(content.String())}, nil
		}
	}
	name := string(m.Key)
	if name == "" {
		name = fallback
	} else if filepath.Ext(name) == "" {
		name += ".log"
	}
	return Upload{Filename: name, Data: m.Value}, nil
}
