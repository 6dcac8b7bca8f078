//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoConfig = `listener 1883
allow_anonymous true
`

// MosquittoContainer wraps an Eclipse Mosquitto broker that accepts
// anonymous clients.
type MosquittoContainer struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// NewMosquittoContainer starts a broker from the given image tag ("2.0" when
// empty) and waits until a client can connect.
func NewMosquittoContainer(ctx context.Context, imageTag string) (*MosquittoContainer, error) {
	if imageTag == "" {
		imageTag = "2.0"
	}

	configFile, err := writeTempFile("mosquitto-*.conf", mosquittoConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create mosquitto config: %w", err)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + imageTag,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: "/mosquitto-no-auth.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	mc.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(mappedPort.Int()))

	client, err := mc.Connect("healthcheck")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	client.Disconnect(250)
	return mc, nil
}

// BrokerURL returns the broker address, e.g. "tcp://localhost:32768".
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Connect returns a connected client. The caller disconnects it.
func (c *MosquittoContainer) Connect(clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect client: %w", token.Error())
	}
	return client, nil
}

// Collector records messages published to one topic.
type Collector struct {
	client   mqtt.Client
	mu       sync.Mutex
	messages [][]byte
	received chan struct{}
}

// Collect subscribes to topic and records every payload until Close.
func (c *MosquittoContainer) Collect(topic string) (*Collector, error) {
	client, err := c.Connect("collector-" + strconv.FormatInt(time.Now().UnixNano(), 36))
	if err != nil {
		return nil, err
	}
	col := &Collector{client: client, received: make(chan struct{}, 64)}
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		col.mu.Lock()
		col.messages = append(col.messages, msg.Payload())
		col.mu.Unlock()
		select {
		case col.received <- struct{}{}:
		default:
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe timeout for %s", topic)
	}
	if token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	return col, nil
}

// Wait blocks until at least n messages arrived or ctx ends, then returns
// what was recorded.
func (col *Collector) Wait(ctx context.Context, n int) [][]byte {
	for {
		col.mu.Lock()
		got := len(col.messages)
		col.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-col.received:
		case <-ctx.Done():
			col.mu.Lock()
			defer col.mu.Unlock()
			return append([][]byte(nil), col.messages...)
		}
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	return append([][]byte(nil), col.messages...)
}

// Close disconnects the collector's client.
func (col *Collector) Close() {
	col.client.Disconnect(250)
}

// Terminate stops the container and removes the temporary config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var err error
	if c.container != nil {
		if termErr := c.container.Terminate(ctx); termErr != nil {
			err = fmt.Errorf("failed to terminate container: %w", termErr)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return err
}
