package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"MentorLink/tools/expiring"
)

// NatsxProducer publishes with a Nats-Msg-Id header plus a local
// seen-once guard, so a retried hand-off never produces two pushes.
type NatsxProducer struct {
	c    *NatsxClient
	idem *expiring.Cache
}

func NewNatsxProducer(c *NatsxClient, idemTTL time.Duration) *NatsxProducer {
	if idemTTL <= 0 {
		idemTTL = 2 * time.Minute
	}
	return &NatsxProducer{c: c, idem: expiring.NewCache(idemTTL)}
}

func (p *NatsxProducer) Close() { p.idem.Close() }

// PublishOnce publishes data on subject with msgID as the idempotency
// key; empty msgID gets a random one.
func (p *NatsxProducer) PublishOnce(_ context.Context, subject string, data []byte, msgID string) error {
	if msgID == "" {
		msgID = genMsgID()
	}
	if p.idem.SeenOnce(subject+"|"+msgID, 0) {
		return nil
	}
	return p.c.publish(subject, data, map[string]string{"Nats-Msg-Id": msgID})
}

func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
