package models

import (
	"testing"
)

func TestDecodeEnvelopeWrappedData(t *testing.T) {
	env, ok := DecodeEnvelope([]byte(`{"success":true,"data":{"_id":"abc"}}`))
	if !ok {
		t.Fatalf("expected well-formed envelope")
	}
	if !env.OK() {
		t.Fatalf("expected success envelope")
	}
	if string(env.Payload()) != `{"_id":"abc"}` {
		t.Fatalf("unexpected payload: %s", env.Payload())
	}
}

func TestDecodeEnvelopeResultField(t *testing.T) {
	env, ok := DecodeEnvelope([]byte(`{"success":true,"result":[1,2]}`))
	if !ok || !env.OK() {
		t.Fatalf("expected success envelope")
	}
	if string(env.Payload()) != `[1,2]` {
		t.Fatalf("unexpected payload: %s", env.Payload())
	}
}

func TestDecodeEnvelopeBareArray(t *testing.T) {
	env, ok := DecodeEnvelope([]byte(`[{"_id":"a"}]`))
	if !ok {
		t.Fatalf("bare arrays are a valid response shape")
	}
	if !env.OK() {
		t.Fatalf("bare array should count as success")
	}
}

func TestDecodeEnvelopeBareObject(t *testing.T) {
	env, ok := DecodeEnvelope([]byte(`{"_id":"abc","status":"active"}`))
	if !ok || !env.OK() {
		t.Fatalf("bare objects are a valid response shape")
	}
	if string(env.Payload()) != `{"_id":"abc","status":"active"}` {
		t.Fatalf("unexpected payload: %s", env.Payload())
	}
}

func TestDecodeEnvelopeExplicitFailure(t *testing.T) {
	env, ok := DecodeEnvelope([]byte(`{"success":false,"message":"nope"}`))
	if !ok {
		t.Fatalf("expected parseable envelope")
	}
	if env.OK() {
		t.Fatalf("success=false must not count as success")
	}
}

func TestDecodeEnvelopeGarbage(t *testing.T) {
	if _, ok := DecodeEnvelope([]byte(`<!doctype html>`)); ok {
		t.Fatalf("html is not a well-formed envelope")
	}
	if _, ok := DecodeEnvelope(nil); ok {
		t.Fatalf("empty body is not a well-formed envelope")
	}
}
