package publisher

import "github.com/sirupsen/logrus"

// LogPublisher is the default outbound collaborator when no message bus is
// wired: it writes every event to the structured log. Useful for local runs
// and as the stand-in the engine publishes against in tests.
type LogPublisher struct {
	log *logrus.Entry
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		log: logrus.WithField("component", "publisher"),
	}
}

func (p *LogPublisher) Publish(subject string, payload []byte) error {
	p.log.WithField("subject", subject).Debug(string(payload))
	return nil
}
