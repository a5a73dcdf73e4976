package utils

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// SendSSEChunk 发送Server-Sent Events数据块: "data: <json>\n\n"
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal sse payload")
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		return errors.Wrap(err, "write sse prefix")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write sse payload")
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return errors.Wrap(err, "write sse terminator")
	}
	flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
