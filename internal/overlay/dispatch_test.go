package overlay

import (
	"testing"

	"github.com/rs/zerolog"

	"dynwol/internal/token"
	"dynwol/internal/transport"
	"dynwol/internal/wire"
)

type recordingHostInfo struct {
	got []wire.Extracted[wire.HostInfoMessage]
}

func (r *recordingHostInfo) HandleIncoming(msg wire.Extracted[wire.HostInfoMessage]) {
	r.got = append(r.got, msg)
}

type recordingOccupation struct {
	got []wire.Extracted[wire.HostOccupationMessage]
}

func (r *recordingOccupation) HandleIncoming(msg wire.Extracted[wire.HostOccupationMessage]) {
	r.got = append(r.got, msg)
}

func newDispatcher() (*Dispatcher, *recordingHostInfo, *recordingOccupation) {
	hi := &recordingHostInfo{}
	occ := &recordingOccupation{}
	return &Dispatcher{HostInfo: hi, Occupation: occ, Log: zerolog.Nop()}, hi, occ
}

func TestDispatch_RoutesByTopic(t *testing.T) {
	d, hi, occ := newDispatcher()

	hash := token.HashWithSalt("0123456789abcdef0123456789abcdef", []byte("fixed-salt-bytes"))
	info, err := wire.Encode(wire.HostInfoMessage{
		TokenHash:  hash,
		MACAddress: []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		Name:       "alpha",
	})
	if err != nil {
		t.Fatalf("encode host info: %v", err)
	}
	load, err := wire.Encode(wire.HostOccupationMessage{CPUPercentage: 42})
	if err != nil {
		t.Fatalf("encode occupation: %v", err)
	}

	if !d.Dispatch(transport.Event{From: "p1", Topic: wire.TopicHostInfo, Data: info}) {
		t.Error("host-info event was not claimed")
	}
	if !d.Dispatch(transport.Event{From: "p1", Topic: wire.TopicHostOccupation, Data: load}) {
		t.Error("host-occupation event was not claimed")
	}

	if len(hi.got) != 1 || hi.got[0].PeerID != "p1" || hi.got[0].Message.Name != "alpha" {
		t.Errorf("host info handler: got %+v", hi.got)
	}
	if len(occ.got) != 1 || occ.got[0].Message.CPUPercentage != 42 {
		t.Errorf("occupation handler: got %+v", occ.got)
	}
}

func TestDispatch_UnknownTopic(t *testing.T) {
	d, hi, occ := newDispatcher()

	if d.Dispatch(transport.Event{From: "p1", Topic: "host-gossip", Data: []byte{0x80}}) {
		t.Error("unknown topic should not be claimed")
	}
	if len(hi.got) != 0 || len(occ.got) != 0 {
		t.Error("no handler should have been called")
	}
}

func TestDispatch_UndecodablePayloadDropped(t *testing.T) {
	d, hi, _ := newDispatcher()

	if !d.Dispatch(transport.Event{From: "p1", Topic: wire.TopicHostInfo, Data: []byte("not msgpack")}) {
		t.Error("known topic should be claimed even when payload is bad")
	}
	if len(hi.got) != 0 {
		t.Errorf("handler should not see bad payload, got %+v", hi.got)
	}
}
