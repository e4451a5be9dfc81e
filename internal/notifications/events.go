package notifications

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/JustinTDCT/VideoJockey/internal/queue"
)

type EventNotifier interface {
	Broadcast(event string, data interface{})
}

// Fanout passes every event to each non-nil notifier in order.
type Fanout []EventNotifier

func (f Fanout) Broadcast(event string, data interface{}) {
	for _, n := range f {
		if n != nil {
			n.Broadcast(event, data)
		}
	}
}

// DownloadAlerts posts a webhook message when a download completes or fails
// for good. Requeued attempts are not reported.
type DownloadAlerts struct {
	sender *WebhookSender

	mu   sync.Mutex
	sent map[string]queue.Status
	wg   sync.WaitGroup
}

func NewDownloadAlerts(sender *WebhookSender) *DownloadAlerts {
	return &DownloadAlerts{sender: sender, sent: make(map[string]queue.Status)}
}

func (a *DownloadAlerts) Broadcast(event string, data interface{}) {
	if a == nil || a.sender == nil || event != "queue:updated" {
		return
	}
	req, ok := data.(*queue.Request)
	if !ok || req == nil {
		return
	}
	if req.Status != queue.StatusCompleted && req.Status != queue.StatusFailed {
		a.mu.Lock()
		delete(a.sent, req.ID)
		a.mu.Unlock()
		return
	}
	if !a.markSent(req.ID, req.Status) {
		return
	}

	id := req.ID
	title, message := alertText(req)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.sender.Send(ctx, title, message); err != nil {
			log.Printf("[notifications] alert for %s: %v", id, err)
		}
	}()
}

// markSent reports whether this is the first alert for the request in this
// state. Any non-final update clears the mark, so a reset request that ends
// the same way again is alerted again.
func (a *DownloadAlerts) markSent(id string, status queue.Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sent[id] == status {
		return false
	}
	a.sent[id] = status
	return true
}

// Wait blocks until in-flight webhook posts finish.
func (a *DownloadAlerts) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}

func alertText(req *queue.Request) (string, string) {
	name := req.Title
	if name == "" {
		name = req.URL
	}
	if req.Status == queue.StatusCompleted {
		return "Download complete", fmt.Sprintf("%s\n%s", name, req.FilePath)
	}
	return "Download failed", fmt.Sprintf("%s\nafter %d attempts: %s", name, req.RetryCount+1, req.ErrorMessage)
}
