package server

import (
	"context"
	"encoding/base64"
	"net/http"

	iface "LowLightDet/interface"
	"LowLightDet/notify"
	"LowLightDet/stream"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsReadLimit = 20 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FrameReply is sent for every frame received on /ws/stream.
type FrameReply struct {
	Frame      int               `json:"frame"`
	Composite  string            `json:"composite,omitempty"`
	Detections []iface.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// wsStream treats every text message as one base64 frame. A bad frame gets an
// error reply and the session continues.
func (s *Server) wsStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	sessionID := uuid.NewString()
	log := s.log.With(zap.String("session", sessionID))
	log.Info("stream session opened")

	frames, skipped := 0, 0
	counts := map[string]int{}
	defer func() {
		log.Info("stream session closed", zap.Int("frames", frames), zap.Int("skipped", skipped))
		if s.notifier.Enabled() && frames > 0 {
			go s.notifier.SafeSend(context.Background(), notify.NewReport(notify.KindStream, sessionID, frames, nil, counts))
		}
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("stream read", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			_ = conn.WriteJSON(FrameReply{Frame: frames, Error: "unsupported message type"})
			continue
		}
		reply := s.handleFrame(c.Request.Context(), string(msg), frames)
		if reply.Error != "" {
			skipped++
			if s.mon != nil {
				s.mon.FrameSkipped("ws")
			}
		} else {
			frames++
			for _, d := range reply.Detections {
				counts[d.Label]++
			}
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn("stream write", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, b64 string, index int) FrameReply {
	img, err := stream.DecodeBase64Image(b64)
	if err != nil {
		return FrameReply{Frame: index, Error: "invalid image: " + err.Error()}
	}
	defer img.Close()
	res, err := s.process(ctx, img)
	if err != nil {
		return FrameReply{Frame: index, Error: "inference error: " + err.Error()}
	}
	defer res.Close()
	if s.mon != nil {
		s.mon.FrameProcessed(res.Inference, len(res.Detections))
	}
	jpg, err := stream.EncodeJPEG(res.Composite)
	if err != nil {
		return FrameReply{Frame: index, Error: "encode error: " + err.Error()}
	}
	dets := res.Detections
	if dets == nil {
		dets = []iface.Detection{}
	}
	return FrameReply{
		Frame:      index,
		Composite:  base64.StdEncoding.EncodeToString(jpg),
		Detections: dets,
	}
}
