package tinysse

import (
	"sort"
	"time"
)

// SubscriberStatus is a snapshot of one live subscriber, for status
// reporting.
type SubscriberStatus struct {
	ID       SubscriberID `json:"id"`
	Path     string       `json:"request_path"`
	ClientIP string       `json:"client_ip"`
	Created  int64        `json:"created_at"`
	MsgsSent uint64       `json:"msgs_sent"`
	State    string       `json:"state"`
}

// BrokerStatus is a snapshot of a Broker, serialized to JSON at the admin
// status endpoint.
type BrokerStatus struct {
	Status      string             `json:"status"`
	Reported    int64              `json:"reported_at"`
	StartupTime int64              `json:"startup_time"`
	SentMsgs    uint64             `json:"msgs_broadcast"`
	Subscribers []SubscriberStatus `json:"subscribers"`
}

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateHello:
		return "hello"
	case StateCatchup:
		return "catchup"
	case StateLive:
		return "live"
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status returns a point-in-time snapshot of b, sorted by subscriber age.
func (b *Broker) Status() BrokerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make([]SubscriberStatus, 0, len(b.sessions))
	for id, entry := range b.sessions {
		subs = append(subs, SubscriberStatus{
			ID:       id,
			Path:     entry.session.Sub.Req.Path,
			ClientIP: entry.session.Sub.Req.ClientAddr,
			Created:  entry.session.Created.Unix(),
			MsgsSent: entry.session.MsgsSent(),
			State:    entry.session.State().String(),
		})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Created < subs[j].Created })

	return BrokerStatus{
		Status:      "OK",
		Reported:    time.Now().Unix(),
		StartupTime: b.startupTime.Unix(),
		SentMsgs:    b.queue.SentMsgs(),
		Subscribers: subs,
	}
}
