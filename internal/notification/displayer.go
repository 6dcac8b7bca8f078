package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
)

// Displayer shows a notification somewhere a user will see it.
type Displayer interface {
	Name() string
	Display(ctx context.Context, n *Notification) error
}

// LogDisplayer writes notifications to the log. It is always enabled.
type LogDisplayer struct {
	log logger.Logger
}

// NewLogDisplayer creates a LogDisplayer.
func NewLogDisplayer(log logger.Logger) *LogDisplayer {
	return &LogDisplayer{log: log}
}

func (d *LogDisplayer) Name() string { return "log" }

func (d *LogDisplayer) Display(_ context.Context, n *Notification) error {
	d.log.Info("notification shown",
		logger.String("tag", n.Tag),
		logger.String("title", n.Title),
		logger.String("body", n.PlainBody()))
	return nil
}

// ShoutrrrDisplayer sends notifications to shoutrrr service URLs such as
// ntfy://, telegram:// or discord://.
type ShoutrrrDisplayer struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrDisplayer validates urls and prepares a sender for them.
func NewShoutrrrDisplayer(urls []string, timeout time.Duration) (*ShoutrrrDisplayer, error) {
	if len(urls) == 0 {
		return nil, notifyError(errors.NewStd("no shoutrrr URLs configured"), "shoutrrr", "create")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("target", "shoutrrr").
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	return &ShoutrrrDisplayer{urls: urls, sender: sender}, nil
}

func (d *ShoutrrrDisplayer) Name() string { return "shoutrrr" }

// Display sends the plain-text body with the title to every URL. Errors
// from individual services are joined.
func (d *ShoutrrrDisplayer) Display(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{"title": n.Title}
	var errs []error
	for _, err := range d.sender.Send(n.PlainBody(), &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return notifyError(errors.Join(errs...), d.Name(), "send")
	}
	return nil
}

// mqttTimeout bounds connect and publish waits.
const mqttTimeout = 10 * time.Second

// MQTTDisplayer publishes notifications as JSON to an MQTT topic. It
// connects on first use.
type MQTTDisplayer struct {
	settings conf.MQTTSettings
	mu       sync.Mutex
	client   mqtt.Client
}

// NewMQTTDisplayer creates an MQTTDisplayer for settings.Broker.
func NewMQTTDisplayer(settings conf.MQTTSettings) *MQTTDisplayer {
	return &MQTTDisplayer{settings: settings}
}

func (d *MQTTDisplayer) Name() string { return "mqtt" }

// mqttMessage is the published JSON document.
type mqttMessage struct {
	Tag     string    `json:"tag"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Options Options   `json:"options"`
	ShownAt time.Time `json:"shown_at"`
}

func (d *MQTTDisplayer) Display(ctx context.Context, n *Notification) error {
	client, err := d.connect()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(mqttMessage{
		Tag:     n.Tag,
		Title:   n.Title,
		Body:    n.PlainBody(),
		Options: n.Options,
		ShownAt: n.ShownAt,
	})
	if err != nil {
		return notifyError(err, d.Name(), "encode")
	}

	token := client.Publish(d.settings.Topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttTimeout):
		return notifyError(errors.NewStd("publish timeout"), d.Name(), "publish")
	}
	if err := token.Error(); err != nil {
		return notifyError(err, d.Name(), "publish")
	}
	return nil
}

func (d *MQTTDisplayer) connect() (mqtt.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil && d.client.IsConnected() {
		return d.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.settings.Broker)
	opts.SetClientID(d.settings.ClientID)
	if d.settings.Username != "" {
		opts.SetUsername(d.settings.Username)
		opts.SetPassword(d.settings.Password)
	}
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, notifyError(errors.NewStd("connect timeout"), d.Name(), "connect")
	}
	if err := token.Error(); err != nil {
		return nil, notifyError(err, d.Name(), "connect")
	}
	d.client = client
	return client, nil
}

// Close disconnects from the broker.
func (d *MQTTDisplayer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Disconnect(250)
		d.client = nil
	}
	return nil
}

func notifyError(err error, target, op string) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("target", target).
		Context("operation", op).
		Build()
}
