package common

import "time"

// Credentials is the immutable result of a successful login (or of
// loading a persisted token blob). It is consumed by the HTTP client
// and the MQTT session; Key never leaves the process except as an MD5
// ingredient (see crypto.SignRequest / crypto.SignDeviceMessage).
type Credentials struct {
	Token      string
	Key        string
	UserID     string
	UserEmail  string
	HTTPDomain string
	MQTTDomain string
	IssuedOn   time.Time
}

// WithDomains returns a copy of c with updated HTTP/MQTT domains,
// used by the domain-redirect (apiStatus==1030) handling in httpapi.
func (c Credentials) WithDomains(httpDomain, mqttDomain string) Credentials {
	c.HTTPDomain = httpDomain
	c.MQTTDomain = mqttDomain
	return c
}
