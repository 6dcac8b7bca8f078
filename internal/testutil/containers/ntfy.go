//go:build integration

package containers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer wraps an ntfy server used as a shoutrrr notification target.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	port      int
}

// NtfyMessage is one message read back from a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
	Title   string `json:"title"`
	Time    int64  `json:"time"`
}

// NewNtfyContainer starts binwiederhier/ntfy with message caching enabled so
// published messages can be polled.
func NewNtfyContainer(ctx context.Context) (*NtfyContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "binwiederhier/ntfy:latest",
			ExposedPorts: []string{"80/tcp"},
			Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
			WaitingFor: wait.ForHTTP("/v1/health").
				WithPort("80/tcp").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "80")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	return &NtfyContainer{container: container, host: host, port: mappedPort.Int()}, nil
}

// HostPort returns host:port of the server.
func (c *NtfyContainer) HostPort() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// ShoutrrrURL returns a shoutrrr URL that publishes to topic over plain HTTP.
func (c *NtfyContainer) ShoutrrrURL(topic string) string {
	return fmt.Sprintf("ntfy://%s/%s?scheme=http", c.HostPort(), topic)
}

// PollMessages returns all cached messages of a topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	url := fmt.Sprintf("http://%s/%s/json?poll=1", c.HostPort(), topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll request failed with status %d: %s", resp.StatusCode, body)
	}

	// Newline-delimited JSON, one message per line.
	var messages []NtfyMessage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse message JSON: %w", err)
		}
		if msg.ID == "" && msg.Message == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

// Terminate stops and removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
