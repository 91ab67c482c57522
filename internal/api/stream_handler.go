package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development; restrict in production
	},
}

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// snapshotAdvances reports whether next moves the stream forward: no counter
// regresses and either a counter grew or the status changed. Updates buffered
// before the initial frame was built fail this and are dropped.
func snapshotAdvances(next, prev scrape.ProgressSnapshot) bool {
	grew := false
	pairs := [...][2]int{
		{next.TotalEstimated, prev.TotalEstimated},
		{next.ItemsFound, prev.ItemsFound},
		{next.ItemsSaved, prev.ItemsSaved},
		{next.ItemsSkippedDuplicate, prev.ItemsSkippedDuplicate},
		{next.ItemsFailed, prev.ItemsFailed},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return false
		}
		if p[0] > p[1] {
			grew = true
		}
	}
	return grew || next.Status != prev.Status
}

// streamProgress upgrades GET /v1/jobs/{job_id}/stream to a WebSocket and
// forwards progress snapshots until the job finishes or the client
// disconnects. Each snapshot carries the full counter set, so a dropped
// intermediate update never loses information.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.manager.GetStatus(r.Context(), jobID); err != nil {
		s.writeManagerError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.broadcaster.Subscribe(jobID)
	defer sub.Close()

	logger := s.logger.With(zap.String("job_id", jobID))
	logger.Debug("progress stream opened")

	// Send the current state first so a late subscriber is never blank.
	var last scrape.ProgressSnapshot
	if job, err := s.manager.GetStatus(r.Context(), jobID); err == nil {
		last = job.Snapshot(time.Now().UTC())
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(last); err != nil {
			return
		}
		if job.Status.IsTerminal() {
			return
		}
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				logger.Debug("progress stream closed, job finished")
				return
			}
			// Updates buffered before the initial frame was built can lag
			// it; delivering them would roll counters back on this stream.
			if !snapshotAdvances(snapshot, last) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				logger.Debug("websocket write failed, client gone", zap.Error(err))
				return
			}
			last = snapshot
			if snapshot.Status.IsTerminal() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
