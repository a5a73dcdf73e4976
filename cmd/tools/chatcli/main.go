// Command chatcli sends one message to POST /chat/stream and prints the
// reply as it streams in.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "服务地址")
	session := flag.String("session", "", "会话 ID，留空由服务端生成")
	message := flag.String("message", "", "要发送的消息")
	timeout := flag.Duration("timeout", 2*time.Minute, "请求超时时间")
	flag.Parse()

	if strings.TrimSpace(*message) == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sessionID, err := run(ctx, http.DefaultClient, *url, *session, *message, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nchatcli: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "\n[session %s]\n", sessionID)
}

// run streams one reply to out and returns the session id reported by the
// server.
func run(ctx context.Context, client *http.Client, baseURL, sessionID, message string, out io.Writer) (string, error) {
	body, err := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", errors.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event chat.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return sessionID, errors.Wrap(err, "decode event")
		}

		switch event.Type {
		case chat.EventSessionStart:
			sessionID = event.SessionID
		case chat.EventChunk:
			fmt.Fprint(out, event.Text)
		case chat.EventError:
			return sessionID, errors.New(event.Text)
		}
		if event.Terminal() {
			return sessionID, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return sessionID, errors.Wrap(err, "read stream")
	}
	return sessionID, errors.New("stream ended without a complete event")
}
