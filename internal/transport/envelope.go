package transport

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrBadSignature = errors.New("envelope signature invalid")

// envelope is the datagram framing around every published payload.
type envelope struct {
	From      []byte `msgpack:"from"`
	Topic     string `msgpack:"topic"`
	Seq       uint64 `msgpack:"seq"`
	Data      []byte `msgpack:"data"`
	Signature []byte `msgpack:"sig"`
}

// signedPart is the portion of an envelope covered by the signature.
type signedPart struct {
	From  []byte `msgpack:"from"`
	Topic string `msgpack:"topic"`
	Seq   uint64 `msgpack:"seq"`
	Data  []byte `msgpack:"data"`
}

func (e *envelope) signingBytes() ([]byte, error) {
	return msgpack.Marshal(signedPart{From: e.From, Topic: e.Topic, Seq: e.Seq, Data: e.Data})
}

// seal builds and signs an envelope for data on topic.
func seal(key ed25519.PrivateKey, topic string, seq uint64, data []byte) ([]byte, error) {
	env := envelope{
		From:  key.Public().(ed25519.PublicKey),
		Topic: topic,
		Seq:   seq,
		Data:  data,
	}
	msg, err := env.signingBytes()
	if err != nil {
		return nil, fmt.Errorf("marshaling signed part: %w", err)
	}
	env.Signature = ed25519.Sign(key, msg)

	packet, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return packet, nil
}

// open decodes and verifies a packet.
func open(packet []byte) (*envelope, error) {
	var env envelope
	if err := msgpack.Unmarshal(packet, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if len(env.From) != ed25519.PublicKeySize || len(env.Signature) != ed25519.SignatureSize {
		return nil, ErrBadSignature
	}
	msg, err := env.signingBytes()
	if err != nil {
		return nil, fmt.Errorf("marshaling signed part: %w", err)
	}
	if !ed25519.Verify(env.From, msg, env.Signature) {
		return nil, ErrBadSignature
	}
	return &env, nil
}
