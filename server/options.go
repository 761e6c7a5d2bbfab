// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Server.
type Option func(*options)

type options struct {
	host    string
	service string

	maxClients int
	reconnect  bool

	tcpTimeout      time.Duration
	byteTimeout     time.Duration
	responseTimeout time.Duration

	logger *zap.Logger
}

func defaultOptions() *options {
	return &options{
		host:            "",
		service:         "502",
		maxClients:      10,
		reconnect:       true,
		tcpTimeout:      5 * time.Second,
		byteTimeout:     1 * time.Second,
		responseTimeout: 1 * time.Second,
		logger:          zap.NewNop(),
	}
}

// WithHost sets the address the listening socket binds to. An empty host
// or the literal "any" (case-insensitive) both mean the dual-stack
// wildcard address; Listen translates "any" before resolving it.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithService sets the TCP port (or service name) to listen on.
func WithService(service string) Option {
	return func(o *options) { o.service = service }
}

// WithMaxClients sets the maximum number of simultaneous client
// connections; the listening socket is not polled once this is reached.
func WithMaxClients(n int) Option {
	return func(o *options) { o.maxClients = n }
}

// WithReconnect controls whether the server keeps running after its last
// client disconnects. When false, RunCycle returns OutcomeTermNoConn as
// soon as the connection count drops to zero.
func WithReconnect(enable bool) Option {
	return func(o *options) { o.reconnect = enable }
}

// WithTCPTimeout sets the TCP_USER_TIMEOUT (and derived keepalive
// interval/count) applied to every accepted socket.
func WithTCPTimeout(d time.Duration) Option {
	return func(o *options) { o.tcpTimeout = d }
}

// WithByteTimeout sets the maximum time allowed between two consecutive
// bytes of one ADU.
func WithByteTimeout(d time.Duration) Option {
	return func(o *options) { o.byteTimeout = d }
}

// WithResponseTimeout sets the maximum time allowed to receive a complete
// request once its first byte has arrived.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithLogger sets the logger used for every diagnostic line the server
// emits.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}
