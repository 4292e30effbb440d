package notify

import (
	"context"

	"MentorLink/logger"
	"MentorLink/service/call"
)

// Names resolves user ids to display names for notification copy.
type Names interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// CallNotifier adapts the fan-out to the signaling layer's ring/missed
// contract. Ring persists up front so a later timeout always has a
// record to flip.
type CallNotifier struct {
	fan   *Fanout
	names Names // nil = use raw ids
}

func NewCallNotifier(fan *Fanout, names Names) *CallNotifier {
	return &CallNotifier{fan: fan, names: names}
}

func (n *CallNotifier) callerName(ctx context.Context, userID string) string {
	if n.names == nil {
		return userID
	}
	name, err := n.names.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

func (n *CallNotifier) Ring(ctx context.Context, target string, off call.OfferInfo) {
	kind := KindIncomingCall
	title := "Incoming call"
	if off.RoomKey.IsGroupCall() {
		kind = KindGroupInvite
		title = "Group call invitation"
	}
	err := n.fan.RaiseStored(ctx, Event{
		EventID: "ring:" + off.CallID + ":" + target,
		UserID:  target,
		Kind:    kind,
		RoomKey: off.RoomKey,
		CallID:  off.CallID,
		Title:   title,
		Body:    string(off.Kind) + " call from " + n.callerName(ctx, off.Initiator),
		Payload: map[string]any{"initiator": off.Initiator, "call_kind": string(off.Kind)},
	})
	if err != nil {
		logger.Warnf("[notify] ring failed call=%s target=%s err=%v", off.CallID, target, err)
	}
}

func (n *CallNotifier) Missed(ctx context.Context, target string, off call.OfferInfo) {
	body := "Missed " + string(off.Kind) + " call from " + n.callerName(ctx, off.Initiator)
	if err := n.fan.FlipToMissed(ctx, target, off.CallID, body); err != nil {
		logger.Warnf("[notify] missed flip failed call=%s target=%s err=%v", off.CallID, target, err)
	}
}
