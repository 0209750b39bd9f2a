/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/events"
)

// natsSubjectPrefix namespaces the published subjects.
const natsSubjectPrefix = "cueplay.events."

// NATSSink publishes session events to NATS subjects. The client
// reconnects indefinitely; events emitted while disconnected are
// dropped rather than buffered, since the session must not stall on
// the bus.
type NATSSink struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string
}

// NewNATSSink connects to a NATS server.
func NewNATSSink(url, nodeID string, logger zerolog.Logger) (*NATSSink, error) {
	log := logger.With().Str("component", "nats_sink").Logger()

	conn, err := nats.Connect(url,
		nats.Name("cueplay-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", url).Msg("NATS event sink initialized")
	return &NATSSink{conn: conn, logger: log, nodeID: nodeID}, nil
}

// Attach subscribes the sink to every session event type.
func (s *NATSSink) Attach(emitter *events.Emitter) {
	for _, eventType := range events.AllTypes() {
		emitter.Subscribe(eventType, s.publish)
	}
}

func (s *NATSSink) publish(evt events.Event) {
	data, err := json.Marshal(busMessage{
		EventType: evt.Type,
		Payload:   evt.Data,
		Timestamp: evt.Timestamp,
		NodeID:    s.nodeID,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := s.conn.Publish(natsSubjectPrefix+string(evt.Type), data); err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to publish to NATS")
	}
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn().Err(err).Msg("NATS drain failed, closing hard")
		s.conn.Close()
	}
}
