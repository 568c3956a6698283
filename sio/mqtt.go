/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTT is a Driver that subscribes to topics at an MQTT broker.
//
// Each message payload that parses as JSON is an input.  Other
// payloads become strings.
type MQTT struct {
	lifecycle

	Broker   string
	ClientID string
	Username string
	Password string

	// Topics are subscriptions of the form TOPIC or TOPIC:QOS.
	Topics []string

	// CorrelationFrom is "topic" to use the message's topic as
	// the correlation id.  Otherwise it names an input property.
	CorrelationFrom string

	// InjectTopic adds a "topic" property to object inputs.
	InjectTopic bool

	KeepAlive time.Duration

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint

	Client mqtt.Client
}

// NewMQTT makes an MQTT Driver from the Conf.  The client isn't
// connected until Start.
func NewMQTT(c Conf) (*MQTT, error) {
	if err := c.Check("broker", "clientId", "username", "password", "topics",
		"correlationFrom", "injectTopic", "keepAlive", "quiesce", "verbose"); err != nil {
		return nil, err
	}
	d := &MQTT{}
	var err error
	if d.Broker, err = c.String("broker", "tcp://localhost:1883"); err != nil {
		return nil, err
	}
	if d.ClientID, err = c.String("clientId", ""); err != nil {
		return nil, err
	}
	if d.ClientID == "" {
		d.ClientID = "jsonpipe-" + core.Gensym()
	}
	if d.Username, err = c.String("username", ""); err != nil {
		return nil, err
	}
	if d.Password, err = c.String("password", ""); err != nil {
		return nil, err
	}
	if d.Topics, err = c.Strings("topics"); err != nil {
		return nil, err
	}
	if len(d.Topics) == 0 {
		return nil, core.NewConfigurationError("topics", "no topics given")
	}
	if d.CorrelationFrom, err = c.String("correlationFrom", "topic"); err != nil {
		return nil, err
	}
	if d.InjectTopic, err = c.Bool("injectTopic", false); err != nil {
		return nil, err
	}
	if d.KeepAlive, err = c.Duration("keepAlive", 10*time.Minute); err != nil {
		return nil, err
	}
	q, err := c.Int("quiesce", 100)
	if err != nil {
		return nil, err
	}
	d.Quiesce = uint(q)
	if d.Verbose, err = c.Bool("verbose", false); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.Broker)
	opts.SetClientID(d.ClientID)
	opts.SetKeepAlive(d.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetUsername(d.Username)
	opts.SetPassword(d.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		d.logf("MQTT connection lost: %s", err)
	})
	d.Client = mqtt.NewClient(opts)

	return d, nil
}

// ParseTopic extracts QoS from a topic name of the form TOPIC:QOS.
func ParseTopic(s string) (string, byte) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 || 2 < n {
		return s, 0
	}
	return s[:i], byte(n)
}

// input makes the input Value and correlation id for a message.
func (d *MQTT) input(topic string, payload []byte) (*core.Value, string) {
	v, err := core.ParseJSON(payload)
	if err != nil {
		d.logf("MQTT couldn't JSON-parse payload on %s", topic)
		v = core.String(string(payload))
	}
	if d.InjectTopic && v.Kind == core.KindObject {
		v.Put("topic", core.String(topic))
	}
	cid := topic
	if d.CorrelationFrom != "topic" {
		cid = CorrelationID(d.CorrelationFrom, v)
	}
	return v, cid
}

func (d *MQTT) consume(ctx context.Context, m *crew.Manager, topic string, payload []byte) {
	v, cid := d.input(topic, payload)
	d.logf("MQTT incoming %s %s", topic, payload)
	d.process(ctx, m, cid, v)
}

// Start connects and subscribes.
func (d *MQTT) Start(ctx context.Context, m *crew.Manager) error {
	ctx, err := d.begin(ctx)
	if err != nil {
		return err
	}

	d.logf("MQTT connecting to %s", d.Broker)
	if t := d.Client.Connect(); t.Wait() && t.Error() != nil {
		d.end()
		return errors.Wrapf(t.Error(), "connecting to %s", d.Broker)
	}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		if ctx.Err() != nil {
			return
		}
		d.consume(ctx, m, msg.Topic(), msg.Payload())
	}

	for _, s := range d.Topics {
		topic, qos := ParseTopic(s)
		d.logf("MQTT subscribing to %s (%d)", topic, qos)
		if t := d.Client.Subscribe(topic, qos, handler); t.Wait() && t.Error() != nil {
			d.Client.Disconnect(d.Quiesce)
			d.end()
			return errors.Wrapf(t.Error(), "subscribing to %s", topic)
		}
	}

	return nil
}

// Stop unsubscribes and disconnects.
func (d *MQTT) Stop(ctx context.Context) error {
	if !d.IsRunning() {
		return nil
	}
	d.end()
	topics := make([]string, 0, len(d.Topics))
	for _, s := range d.Topics {
		topic, _ := ParseTopic(s)
		topics = append(topics, topic)
	}
	if t := d.Client.Unsubscribe(topics...); t.Wait() && t.Error() != nil {
		d.logf("MQTT unsubscribe error %s", t.Error())
	}
	d.Client.Disconnect(d.Quiesce)
	return nil
}

// Publisher returns an MQTTPublisher that uses this Driver's client.
func (d *MQTT) Publisher(topic string) *MQTTPublisher {
	p := NewMQTTPublisher(d.Client, topic)
	p.Verbose = d.Verbose
	return p
}

// MQTTPublisher is a component that publishes values.
//
// An object with a string "topic" property is published to that
// topic, and a numeric "qos" property sets the QoS.  Otherwise Topic
// (which can have a ":QOS" suffix) is used.
type MQTTPublisher struct {
	Topic    string
	Retained bool
	Timeout  time.Duration
	Verbose  bool

	publish func(topic string, qos byte, retained bool, payload []byte) error
}

func NewMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	p := &MQTTPublisher{
		Topic:   topic,
		Timeout: 10 * time.Second,
	}
	p.publish = func(topic string, qos byte, retained bool, payload []byte) error {
		t := client.Publish(topic, qos, retained, payload)
		if !t.WaitTimeout(p.Timeout) {
			return errors.New("publish timed out")
		}
		return t.Error()
	}
	return p
}

func (p *MQTTPublisher) outbound(v *core.Value) (string, byte, []byte, error) {
	topic, qos := ParseTopic(p.Topic)
	if t, have := v.Get("topic"); have && t.Kind == core.KindString {
		topic = t.Str()
	}
	if n, have := v.Get("qos"); have && n.Kind == core.KindNumber {
		qos = byte(n.Float())
	}
	js, err := v.MarshalJSON()
	return topic, qos, js, err
}

func (p *MQTTPublisher) Produce(ctx context.Context, v *core.Value) (*core.Value, error) {
	topic, qos, js, err := p.outbound(v)
	if err != nil {
		return nil, core.NewComponentError("mqtt", "marshal", err.Error(), nil)
	}
	if topic == "" {
		return nil, core.NewComponentError("mqtt", "no-topic", "no topic for "+string(js), v)
	}
	if p.Verbose {
		log.Printf("MQTT publishing %s %s", topic, js)
	}
	if err = p.publish(topic, qos, p.Retained, js); err != nil {
		return nil, core.NewComponentError("mqtt", "publish", err.Error(), nil)
	}
	return nil, nil
}
