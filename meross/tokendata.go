package meross

import (
	"time"

	"github.com/Doekse/merossiot-sub004/common"
)

// TokenData is the serializable session blob an application persists
// across restarts instead of re-authenticating through Login every
// time, per spec §6 ("export/import the session token"). It round-
// trips through encoding/json, the wire format already used for every
// other vendor payload in this module.
type TokenData struct {
	Token      string    `json:"token"`
	Key        string    `json:"key"`
	UserID     string    `json:"userId"`
	UserEmail  string    `json:"userEmail"`
	Domain     string    `json:"domain"`
	MQTTDomain string    `json:"mqttDomain"`
	IssuedOn   time.Time `json:"issuedOn"`
}

func tokenDataFromCredentials(c common.Credentials) TokenData {
	return TokenData{
		Token:      c.Token,
		Key:        c.Key,
		UserID:     c.UserID,
		UserEmail:  c.UserEmail,
		Domain:     c.HTTPDomain,
		MQTTDomain: c.MQTTDomain,
		IssuedOn:   c.IssuedOn,
	}
}

func (t TokenData) credentials() common.Credentials {
	return common.Credentials{
		Token:      t.Token,
		Key:        t.Key,
		UserID:     t.UserID,
		UserEmail:  t.UserEmail,
		HTTPDomain: t.Domain,
		MQTTDomain: t.MQTTDomain,
		IssuedOn:   t.IssuedOn,
	}
}
