package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leafsii/leafsii-dsc/internal/metrics"
	"github.com/leafsii/leafsii-dsc/internal/store"
	"go.uber.org/zap"
)

type SSEHandler struct {
	cache     *store.Cache
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	heartbeat time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SSEHandler{
		cache:     cache,
		logger:    logger,
		metrics:   m,
		heartbeat: 30 * time.Second,
	}
}

// HandleSSE streams engine events and price updates.
// Query: topics=events,prices,price:WETH and address=0x...
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topics := parseTopics(r.URL.Query().Get("topics"))
	address := r.URL.Query().Get("address")

	channels := Channels(topics, address)
	if len(channels) == 0 {
		channels = []string{store.ChannelAllEvent}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.cache.Subscribe(ctx, channels...)
	defer sub.Close()

	if h.metrics != nil {
		h.metrics.IncrementStreams(ctx)
		defer h.metrics.DecrementStreams(context.Background())
	}

	h.logger.Debugw("SSE connection established", "channels", channels, "in_memory", h.cache.IsInMemoryMode())
	h.sendEvent(w, flusher, "connected", "connected", map[string]interface{}{"channels": channels})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var data interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
				h.logger.Warnw("Failed to parse message payload", "channel", msg.Channel, "error", err)
				continue
			}
			h.sendEvent(w, flusher, EventType(msg.Channel), msg.Channel, data)
		}
	}
}

func parseTopics(param string) []string {
	if param == "" {
		return nil
	}
	return strings.Split(param, ",")
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType, id string, data interface{}) {
	dataBytes := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			h.logger.Errorw("Failed to marshal SSE data", "error", err)
			return
		}
		dataBytes = b
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", dataBytes)
	flusher.Flush()
}
