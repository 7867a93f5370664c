package github

import (
	"testing"
)

func TestPayloadFieldPresence(t *testing.T) {
	p, err := DecodePayload([]byte(`{"a":{"b":"x","n":12345678901234567,"f":null,"list":[1,2],"flag":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if s, ok := p.Get("a.b").String(); !ok || s != "x" {
		t.Fatalf("unexpected a.b: %q %v", s, ok)
	}
	if s, ok := p.Get("a.n").String(); !ok || s != "12345678901234567" {
		t.Fatalf("unexpected a.n: %q %v", s, ok)
	}
	if n, ok := p.Get("a.n").Int(); !ok || n != 12345678901234567 {
		t.Fatalf("unexpected a.n int: %d %v", n, ok)
	}
	if p.Get("a.f").Present() {
		t.Fatalf("null must not count as present")
	}
	if p.Get("a.missing.deeper").Present() {
		t.Fatalf("missing path must not be present")
	}
	if _, ok := p.Get("a.b.c").String(); ok {
		t.Fatalf("walking through a string must fail")
	}
	if l, ok := p.Get("a.list").Len(); !ok || l != 2 {
		t.Fatalf("unexpected list len: %d %v", l, ok)
	}
	if _, ok := p.Get("a.b").Len(); ok {
		t.Fatalf("string has no array length")
	}
	if b, ok := p.Get("a.flag").Bool(); !ok || !b {
		t.Fatalf("unexpected flag: %v %v", b, ok)
	}
	if _, ok := p.Get("a.b").Bool(); ok {
		t.Fatalf("string is not a bool")
	}
}

func TestPayloadNullBody(t *testing.T) {
	p, err := DecodePayload([]byte(`null`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Get("repository.full_name").Present() {
		t.Fatalf("expected empty payload")
	}
}

func TestPayloadRejectsTrailingData(t *testing.T) {
	if _, err := DecodePayload([]byte(`{} {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}
