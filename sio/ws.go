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
	"net/url"
	"sync"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocket is a Driver that reads JSON messages from a WebSocket
// server.
//
// Its Writer component sends values back over the same connection.
type WebSocket struct {
	lifecycle

	URL string

	CorrelationField string

	connMu sync.Mutex
	conn   *websocket.Conn
	wmu    sync.Mutex
}

// NewWebSocket makes a WebSocket Driver from the Conf.
func NewWebSocket(c Conf) (*WebSocket, error) {
	if err := c.Check("url", "correlationField", "verbose"); err != nil {
		return nil, err
	}
	d := &WebSocket{}
	var err error
	if d.URL, err = c.String("url", "ws://localhost:8080"); err != nil {
		return nil, err
	}
	if _, err := url.Parse(d.URL); err != nil {
		return nil, core.NewConfigurationError("url", "%s", err.Error())
	}
	if d.CorrelationField, err = c.String("correlationField", ""); err != nil {
		return nil, err
	}
	if d.Verbose, err = c.Bool("verbose", false); err != nil {
		return nil, err
	}
	return d, nil
}

// Start creates the WebSocket session and starts processing it.
func (d *WebSocket) Start(ctx context.Context, m *crew.Manager) error {
	u, err := url.Parse(d.URL)
	if err != nil {
		return err
	}

	d.logf("WebSocket connecting to %s", u)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", u)
	}

	ctx, err = d.begin(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()

	// ReadMessage doesn't watch ctx, so closing the connection is
	// what stops the reader.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	d.goDo(func() {
		defer d.stopped()
		for {
			_, bs, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					d.logf("WebSocket read error %s", err)
				}
				return
			}
			if len(bs) == 0 {
				continue
			}
			v, err := core.ParseJSON(bs)
			if err != nil {
				d.logf("WebSocket bad input: %s", err)
				continue
			}
			d.process(ctx, m, CorrelationID(d.CorrelationField, v), v)
		}
	})

	return nil
}

// Stop terminates the WebSocket connection.
func (d *WebSocket) Stop(ctx context.Context) error {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn != nil {
		d.wmu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		d.wmu.Unlock()
	}
	d.end()
	return nil
}

// Produce sends the value as a text message.
func (d *WebSocket) Produce(ctx context.Context, v *core.Value) (*core.Value, error) {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn == nil {
		return nil, core.NewComponentError("websocket", "not-connected", "no connection", nil)
	}
	js, err := v.MarshalJSON()
	if err != nil {
		return nil, core.NewComponentError("websocket", "marshal", err.Error(), nil)
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if err = conn.WriteMessage(websocket.TextMessage, js); err != nil {
		return nil, core.NewComponentError("websocket", "write", err.Error(), nil)
	}
	return nil, nil
}
