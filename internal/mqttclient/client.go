// Package mqttclient mirrors analysis progress and results onto an MQTT
// broker and can accept analysis requests from it.
package mqttclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/metrics"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/present"
)

// Submitter accepts analysis requests. *pipeline.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (<-chan pipeline.Outcome, error)
}

// RequestMessage is the payload expected on <prefix>/requests.
type RequestMessage struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// FailureMessage is published on <prefix>/results/<id> when an analysis
// could not produce a result.
type FailureMessage struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger

	mu        sync.RWMutex
	submitter Submitter
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	prefix := strings.Trim(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "accent"
	}
	c := &Client{
		prefix: prefix,
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// ProgressTopic is where stage events for one analysis are published.
func (c *Client) ProgressTopic(id string, stage pipeline.Stage) string {
	return c.prefix + "/analysis/" + id + "/" + string(stage)
}

// ResultTopic is where the final outcome of one analysis is published.
func (c *Client) ResultTopic(id string) string {
	return c.prefix + "/results/" + id
}

// RequestTopic is subscribed to when requests are served.
func (c *Client) RequestTopic() string {
	return c.prefix + "/requests"
}

// Emit publishes a pipeline event. It lets the client act as a pipeline.Sink.
// Terminal events are also published on the result topic.
func (c *Client) Emit(e pipeline.Event) {
	c.publish(c.ProgressTopic(e.AnalysisID, e.Stage), e)

	switch {
	case e.Stage == pipeline.StageClassified && e.Result != nil:
		c.publish(c.ResultTopic(e.AnalysisID), present.NewView(e.AnalysisID, *e.Result))
	case e.Stage == pipeline.StageFailed:
		c.publish(c.ResultTopic(e.AnalysisID), FailureMessage{ID: e.AnalysisID, Error: e.Err})
	}
}

// ServeRequests subscribes to the request topic and hands each valid
// request to s. It takes effect on the current and every later connection.
func (c *Client) ServeRequests(s Submitter) {
	c.mu.Lock()
	c.submitter = s
	c.mu.Unlock()
	if c.conn.IsConnected() {
		c.subscribe(c.conn)
	}
}

func (c *Client) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("mqtt marshal failed")
		return
	}
	// Fire and forget: a slow broker must not stall the pipeline.
	token := c.conn.Publish(topic, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
	metrics.MQTTMessagesTotal.WithLabelValues("out").Inc()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
	c.subscribe(client)
}

func (c *Client) subscribe(client mqtt.Client) {
	c.mu.RLock()
	serving := c.submitter != nil
	c.mu.RUnlock()
	if !serving {
		return
	}

	topic := c.RequestTopic()
	token := client.Subscribe(topic, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("mqtt subscribe failed")
		return
	}
	c.log.Info().Str("topic", topic).Msg("accepting analysis requests over mqtt")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	metrics.MQTTMessagesTotal.WithLabelValues("in").Inc()
	if msg.Topic() != c.RequestTopic() {
		c.log.Debug().
			Str("topic", msg.Topic()).
			Int("payload_size", len(msg.Payload())).
			Msg("mqtt message ignored")
		return
	}
	c.handleRequest(msg.Payload())
}

func (c *Client) handleRequest(payload []byte) {
	c.mu.RLock()
	s := c.submitter
	c.mu.RUnlock()
	if s == nil {
		return
	}

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		c.log.Warn().Err(err).Msg("invalid analysis request payload")
		return
	}
	if !topicSafeID(req.ID) {
		id := uuid.NewString()
		if req.ID != "" {
			c.log.Warn().Str("requested_id", req.ID).Str("analysis_id", id).Msg("unusable request id replaced")
		}
		req.ID = id
	}
	if strings.TrimSpace(req.URL) == "" {
		c.publish(c.ResultTopic(req.ID), FailureMessage{ID: req.ID, Error: "url is required"})
		return
	}

	// Progress and results reach the broker through the pipeline sink.
	if _, err := s.Submit(context.Background(), pipeline.Request{ID: req.ID, Source: strings.TrimSpace(req.URL)}); err != nil {
		c.log.Warn().Err(err).Str("analysis_id", req.ID).Msg("mqtt analysis request rejected")
		c.publish(c.ResultTopic(req.ID), FailureMessage{ID: req.ID, Error: err.Error()})
		return
	}
	c.log.Debug().Str("analysis_id", req.ID).Msg("mqtt analysis request queued")
}

// maxIDLen bounds a caller-chosen analysis id.
const maxIDLen = 128

// topicSafeID reports whether id can be used as a single topic level. Ids
// come from the broker, so wildcards and separators are refused.
func topicSafeID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
