// Package notify posts detection reports to an optional webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	iface "LowLightDet/interface"
	"LowLightDet/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	KindImage  = "image"
	KindUpload = "upload"
	KindStream = "stream"
	KindVideo  = "video"
)

const DefaultTimeout = 3 * time.Second

type Report struct {
	Id         string            `json:"id"`
	Source     string            `json:"source"`
	Kind       string            `json:"kind"`
	Frames     int               `json:"frames"`
	Detections []iface.Detection `json:"detections,omitempty"`
	Counts     map[string]int    `json:"counts"`
	TimeStamp  int64             `json:"timestamp"`
}

type Response struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// NewReport stamps a report with a fresh id and the current time.
func NewReport(kind, source string, frames int, dets []iface.Detection, counts map[string]int) Report {
	if counts == nil {
		counts = map[string]int{}
		for _, d := range dets {
			counts[d.Label]++
		}
	}
	return Report{
		Id:         uuid.NewString(),
		Source:     source,
		Kind:       kind,
		Frames:     frames,
		Detections: dets,
		Counts:     counts,
		TimeStamp:  time.Now().Unix(),
	}
}

// Notifier is a webhook client. A nil *Notifier or one with an empty URL is
// a no-op, so callers need not check whether notifications are configured.
type Notifier struct {
	url    string
	client *resty.Client
	log    *zap.Logger
}

func New(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		url:    url,
		client: resty.New().SetTimeout(timeout),
		log:    logger.Log().Named("notify"),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Send posts r and returns an error on transport failure or a non-2xx reply.
func (n *Notifier) Send(ctx context.Context, r Report) error {
	if !n.Enabled() {
		return nil
	}
	var respBody Response
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(r).
		SetResult(&respBody).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("notify %s: %w", n.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify %s: server returned %s: %s", n.url, resp.Status(), resp.String())
	}
	return nil
}

// SafeSend is Send for fire-and-forget callers: failures and panics are logged.
func (n *Notifier) SafeSend(ctx context.Context, r Report) {
	if !n.Enabled() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			n.log.Error("notify panic recovered", zap.Any("panic", rec))
		}
	}()
	if err := n.Send(ctx, r); err != nil {
		n.log.Warn("notify failed", zap.String("id", r.Id), zap.Error(err))
		return
	}
	n.log.Debug("report sent", zap.String("id", r.Id), zap.String("kind", r.Kind))
}
