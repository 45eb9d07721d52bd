package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

// Channel is a delivery target for alerts.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelFile    Channel = "file"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelNATS    Channel = "nats"
)

// Channels lists every channel in fan-out order.
var Channels = []Channel{ChannelLog, ChannelFile, ChannelEmail, ChannelWebhook, ChannelNATS}

// ParseChannel converts a name into a Channel.
func ParseChannel(name string) (Channel, error) {
	for _, c := range Channels {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownChannel, name)
}

// DefaultChannels enables log and file delivery only.
func DefaultChannels() map[Channel]bool {
	return map[Channel]bool{
		ChannelLog:     true,
		ChannelFile:    true,
		ChannelEmail:   false,
		ChannelWebhook: false,
		ChannelNATS:    false,
	}
}

// Publisher sends a payload to a message bus subject.
type Publisher interface {
	Publish(subject string, payload any) error
}

// NATSPublisher publishes alerts as JSON over a NATS connection.
type NATSPublisher struct {
	Conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("anomaly-sentinel"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{Conn: conn}, nil
}

// Publish marshals payload and publishes it on subject.
func (p *NATSPublisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

// deliver fans the alert out to every enabled channel and returns the channels that
// delivered, in fan-out order. The file line is written after the other
// channels so it carries the final channel list.
func (d *Dispatcher) deliver(a domain.Alert) []string {
	var sent []string
	fileEnabled := d.channels[ChannelFile]

	for _, c := range Channels {
		if !d.channels[c] {
			continue
		}
		switch c {
		case ChannelLog:
			d.logAlert(a)
			sent = append(sent, string(c))
		case ChannelFile:
			sent = append(sent, string(c))
		case ChannelNATS:
			if d.publisher == nil {
				continue
			}
			if err := d.publisher.Publish(d.subject, a); err != nil {
				d.logger.Error("publish alert to nats", zap.String("alert_id", a.ID), zap.Error(err))
				continue
			}
			sent = append(sent, string(c))
		default:
			// email and webhook are configuration only
		}
	}

	if fileEnabled {
		a.ChannelsSent = sent
		if err := d.appendToLog(a); err != nil {
			d.logger.Error("write alert file", zap.String("alert_id", a.ID), zap.Error(err))
			sent = removeChannel(sent, ChannelFile)
		}
	}
	return sent
}

func (d *Dispatcher) logAlert(a domain.Alert) {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("level", string(a.Level)),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
	}
	switch a.Level {
	case domain.LevelCritical:
		d.logger.Error("critical alert", fields...)
	case domain.LevelWarning:
		d.logger.Warn("alert", fields...)
	default:
		d.logger.Info("info alert", fields...)
	}
}

// LogPath returns the daily alert log path for the given UTC day.
func (d *Dispatcher) LogPath(day string) string {
	return filepath.Join(d.dir, "alerts_"+day+".jsonl")
}

func (d *Dispatcher) appendToLog(a domain.Alert) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create alerts dir: %w", err)
	}
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	f, err := os.OpenFile(d.LogPath(a.Timestamp.UTC().Format("20060102")), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append alert log: %w", err)
	}
	return nil
}

func removeChannel(sent []string, c Channel) []string {
	out := sent[:0]
	for _, s := range sent {
		if s != string(c) {
			out = append(out, s)
		}
	}
	return out
}
