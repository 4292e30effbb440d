package notify

import (
	"context"

	"MentorLink/service/natsx"
)

// OfflineSubject is where persisted offline notifications are announced
// for push-delivery workers.
const OfflineSubject = "mentorlink.notify.offline"

type natsPublisher struct {
	prod *natsx.NatsxProducer
}

// NewNatsPublisher adapts the NATS producer to the OfflinePublisher
// contract.
func NewNatsPublisher(prod *natsx.NatsxProducer) OfflinePublisher {
	return &natsPublisher{prod: prod}
}

func (p *natsPublisher) PublishOffline(ctx context.Context, eventID string, data []byte) error {
	return p.prod.PublishOnce(ctx, OfflineSubject, data, eventID)
}
