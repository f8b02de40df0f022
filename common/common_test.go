package common

import (
	"errors"
	"testing"
)

func TestMethod_IsAck(t *testing.T) {
	cases := map[Method]bool{
		MethodGET: false, MethodSET: false, MethodPUSH: false,
		MethodGETACK: true, MethodSETACK: true, MethodERROR: true,
	}
	for m, want := range cases {
		if got := m.IsAck(); got != want {
			t.Errorf("%s.IsAck() = %v, want %v", m, got, want)
		}
	}
}

func TestError_ErrorMessage(t *testing.T) {
	withMsg := &Error{Kind: KindCommandTimeout, Message: "no reply"}
	if got, want := withMsg.Error(), "COMMAND_TIMEOUT: no reply"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	bare := &Error{Kind: KindUnconnected}
	if got, want := bare.Error(), "UNCONNECTED"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindOf_UnwrapsWrappedErrors(t *testing.T) {
	inner := New(KindParseError, "bad json")
	outer := Wrap(KindHTTPAPIError, inner)
	if KindOf(outer) != KindHTTPAPIError {
		t.Fatalf("KindOf(outer) = %v, want %v", KindOf(outer), KindHTTPAPIError)
	}
	if KindOf(errors.New("plain error")) != "" {
		t.Fatalf("expected empty kind for a non-*Error, got %v", KindOf(errors.New("x")))
	}
}

func TestError_WithDeviceAndTimeout(t *testing.T) {
	e := New(KindCommandTimeout, "timed out").WithDevice("uuid-1").WithTimeout(5000)
	if e.DeviceUUID != "uuid-1" || e.Timeout != 5000 {
		t.Fatalf("unexpected error fields: %+v", e)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(KindAuthentication) {
		t.Error("expected KindAuthentication to be fatal")
	}
	if IsFatal(KindCommandTimeout) {
		t.Error("expected KindCommandTimeout not to be fatal")
	}
}

func TestCredentials_WithDomainsReturnsCopy(t *testing.T) {
	original := Credentials{HTTPDomain: "old.meross.com", MQTTDomain: "old-mqtt.meross.com", Token: "tok"}
	updated := original.WithDomains("new.meross.com", "new-mqtt.meross.com")

	if original.HTTPDomain != "old.meross.com" {
		t.Fatalf("original was mutated: %+v", original)
	}
	if updated.HTTPDomain != "new.meross.com" || updated.MQTTDomain != "new-mqtt.meross.com" || updated.Token != "tok" {
		t.Fatalf("unexpected updated credentials: %+v", updated)
	}
}
