package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/JustinTDCT/VideoJockey/internal/catalog"
)

type NFOExportPayload struct {
	VideoID string `json:"video_id"`
}

type VideoGetter interface {
	Get(ctx context.Context, id string) (*catalog.Video, error)
}

type EventNotifier interface {
	Broadcast(event string, data interface{})
}

// NFOExporter writes the sidecar NFO of a catalog entry next to its file.
type NFOExporter struct {
	videos   VideoGetter
	notifier EventNotifier
	now      func() time.Time
}

func NewNFOExporter(videos VideoGetter, notifier EventNotifier) *NFOExporter {
	return &NFOExporter{videos: videos, notifier: notifier, now: time.Now}
}

func (e *NFOExporter) Export(ctx context.Context, videoID string) error {
	v, err := e.videos.Get(ctx, videoID)
	if err != nil {
		return fmt.Errorf("get video: %w", err)
	}
	if v.FilePath == "" {
		log.Printf("[jobs] video %s has no file, skipping NFO", v.ID)
		return nil
	}
	path := catalog.NFOPath(v.FilePath)
	if err := catalog.WriteNFO(path, v, e.now()); err != nil {
		return err
	}
	if e.notifier != nil {
		e.notifier.Broadcast("video:exported", map[string]interface{}{"video_id": v.ID, "nfo_path": path})
	}
	return nil
}

// ProcessTask handles TaskExportNFO.
func (e *NFOExporter) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload NFOExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal: %w", asynq.SkipRetry)
	}
	if payload.VideoID == "" {
		return fmt.Errorf("empty video id: %w", asynq.SkipRetry)
	}
	return e.Export(ctx, payload.VideoID)
}

func RegisterHandlers(q *Queue, exporter *NFOExporter) {
	q.RegisterHandler(TaskExportNFO, exporter)
}

// PostProcessor runs the work that follows a completed download. With a
// Queue it schedules tasks in Redis; without one it runs them inline.
type PostProcessor struct {
	queue     *Queue
	exporter  *NFOExporter
	exportNFO bool
}

func NewPostProcessor(q *Queue, exporter *NFOExporter, exportNFO bool) *PostProcessor {
	return &PostProcessor{queue: q, exporter: exporter, exportNFO: exportNFO}
}

func (p *PostProcessor) VideoCompleted(ctx context.Context, v *catalog.Video) error {
	if !p.exportNFO || v == nil {
		return nil
	}
	if p.queue == nil {
		return p.exporter.Export(ctx, v.ID)
	}
	_, err := p.queue.EnqueueUnique(TaskExportNFO, NFOExportPayload{VideoID: v.ID}, "nfo:"+v.ID,
		asynq.MaxRetry(3), asynq.Queue("low"))
	return err
}
