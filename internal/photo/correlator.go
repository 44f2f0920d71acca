// Package photo correlates capture requests with their eventual uploads.
// All state is session-scoped so one session's failures stay isolated.
package photo

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/pkg/message"
)

// Origin distinguishes who asked for the capture.
type Origin string

const (
	OriginSystem Origin = "system"
	OriginTpa    Origin = "tpa"
)

// Sender is the subset of a TPA channel the correlator needs to deliver
// responses and timeout errors.
type Sender interface {
	WriteJSON(v any) error
	IsOpen() bool
}

// Request is one outstanding capture request.
type Request struct {
	ID            string
	UserID        string
	Origin        Origin
	AppID         string
	Channel       Sender
	SaveToGallery bool
	CreatedAt     time.Time
	Timeout       time.Duration

	timer *time.Timer
}

// Correlator tracks the pending capture requests of one session.
type Correlator struct {
	logger *logger.Logger

	mu      sync.Mutex
	pending map[string]*Request
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(log *logger.Logger) *Correlator {
	return &Correlator{
		logger:  log.WithFields(zap.String("component", "photo")),
		pending: make(map[string]*Request),
	}
}

// CreateSystem registers a system-originated request. System captures go to
// the gallery and get the longer timeout.
func (c *Correlator) CreateSystem(userID string, timeout time.Duration) string {
	return c.create(&Request{
		UserID:        userID,
		Origin:        OriginSystem,
		SaveToGallery: true,
		Timeout:       timeout,
	})
}

// CreateTpa registers a TPA-originated request bound to its channel.
func (c *Correlator) CreateTpa(userID, appID string, channel Sender, saveToGallery bool, timeout time.Duration) string {
	return c.create(&Request{
		UserID:        userID,
		Origin:        OriginTpa,
		AppID:         appID,
		Channel:       channel,
		SaveToGallery: saveToGallery,
		Timeout:       timeout,
	})
}

func (c *Correlator) create(req *Request) string {
	req.ID = uuid.New().String()
	req.CreatedAt = time.Now()
	req.timer = time.AfterFunc(req.Timeout, func() { c.expire(req.ID) })

	c.mu.Lock()
	c.pending[req.ID] = req
	c.mu.Unlock()

	c.logger.Debug("photo request created",
		zap.String("request_id", req.ID),
		zap.String("origin", string(req.Origin)),
		zap.String("app_id", req.AppID))
	return req.ID
}

// ProcessResponse matches an upload to its pending request. For TPA-origin
// requests with an open channel, the photo_response frame is forwarded.
// A response without a matching record (already timed out, duplicate) is
// dropped and false is returned.
func (c *Correlator) ProcessResponse(requestID, photoURL string) bool {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("photo response without pending request",
			zap.String("request_id", requestID))
		return false
	}
	req.timer.Stop()

	if req.Origin == OriginTpa && req.Channel != nil && req.Channel.IsOpen() {
		frame := message.PhotoResponse{
			Type:      message.TypePhotoResponse,
			RequestID: req.ID,
			PhotoURL:  photoURL,
			Timestamp: time.Now().UTC(),
		}
		if err := req.Channel.WriteJSON(frame); err != nil {
			c.logger.Warn("photo response delivery failed",
				zap.String("request_id", req.ID),
				zap.String("app_id", req.AppID),
				zap.Error(err))
		}
	}
	return true
}

func (c *Correlator) expire(requestID string) {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.logger.Debug("photo request timed out",
		zap.String("request_id", req.ID),
		zap.String("origin", string(req.Origin)))

	if req.Origin == OriginTpa && req.Channel != nil && req.Channel.IsOpen() {
		frame := message.PhotoTimeout{
			Type:      message.TypePhotoTimeout,
			RequestID: req.ID,
			Message:   "photo request timed out",
			Timestamp: time.Now().UTC(),
		}
		if err := req.Channel.WriteJSON(frame); err != nil {
			c.logger.Debug("photo timeout delivery failed", zap.Error(err))
		}
	}
}

// CancelForApp drops all pending requests belonging to one app, without
// notification. Called when the TPA channel closes.
func (c *Correlator) CancelForApp(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, req := range c.pending {
		if req.Origin == OriginTpa && req.AppID == appID {
			req.timer.Stop()
			delete(c.pending, id)
		}
	}
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown cancels every pending request.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, req := range c.pending {
		req.timer.Stop()
		delete(c.pending, id)
	}
}
