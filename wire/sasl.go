// SASL mechanism negotiation and RFC 5802 SCRAM, grounded on the salted-
// password derivation (Hi()) aistore's authn package performs with a
// similarly-shaped PBKDF2 call, here against golang.org/x/crypto/pbkdf2.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/richardsmedley/cbcore/cberr"
)

// Mechanism is a SASL authentication mechanism name as advertised by the
// server and requested by the client.
type Mechanism string

const (
	MechScramSHA512 Mechanism = "SCRAM-SHA512"
	MechScramSHA256 Mechanism = "SCRAM-SHA256"
	MechScramSHA1   Mechanism = "SCRAM-SHA1"
	MechPlain       Mechanism = "PLAIN"
)

// preference lists every supported mechanism from strongest to weakest.
var preference = []Mechanism{MechScramSHA512, MechScramSHA256, MechScramSHA1, MechPlain}

// SelectMechanism picks the strongest mechanism in the intersection of the
// client's supported set and the server-advertised list. PLAIN is refused
// unless tlsEnabled or allowPlainOnNonTLS is set, per spec.md §4.3.
func SelectMechanism(serverList string, tlsEnabled, allowPlainOnNonTLS bool) (Mechanism, error) {
	offered := make(map[Mechanism]bool)
	for _, m := range strings.Fields(serverList) {
		offered[Mechanism(m)] = true
	}
	for _, m := range preference {
		if !offered[m] {
			continue
		}
		if m == MechPlain && !tlsEnabled && !allowPlainOnNonTLS {
			continue
		}
		return m, nil
	}
	return "", cberr.New(cberr.ErrAuthenticationFailure, "no acceptable SASL mechanism in: "+serverList)
}

func hashFor(m Mechanism) func() hash.Hash {
	switch m {
	case MechScramSHA512:
		return sha512.New
	case MechScramSHA256:
		return sha256.New
	case MechScramSHA1:
		return sha1.New
	}
	return nil
}

// ScramClient drives one RFC 5802 SCRAM exchange: client-first -> server-
// first -> client-final -> server-final, with the server signature verified
// locally before authentication is considered successful.
type ScramClient struct {
	mech       Mechanism
	user       string
	password   string
	nonce      string
	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
	authMessage     string
}

// NewScramClient seeds a fresh exchange with a client nonce. clientNonce is
// injected so tests can supply a deterministic value.
func NewScramClient(mech Mechanism, user, password, clientNonce string) *ScramClient {
	return &ScramClient{mech: mech, user: user, password: password, nonce: clientNonce}
}

// ClientFirst returns the gs2-header + bare client-first-message to send as
// the SASL AUTH request value.
func (c *ScramClient) ClientFirst() []byte {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", saslName(c.user), c.nonce)
	return []byte("n,," + c.clientFirstBare)
}

// ClientFinal consumes the server-first-message and returns the SASL STEP
// request value (client-final-message), or an error if the server nonce
// does not extend the client nonce.
func (c *ScramClient) ClientFinal(serverFirst []byte) ([]byte, error) {
	c.serverFirst = string(serverFirst)
	fields := parseScram(c.serverFirst)
	serverNonce := fields["r"]
	salt := fields["s"]
	iterStr := fields["i"]
	if serverNonce == "" || !strings.HasPrefix(serverNonce, c.nonce) {
		return nil, cberr.New(cberr.ErrAuthenticationFailure, "server nonce does not extend client nonce")
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, cberr.Wrap(cberr.ErrAuthenticationFailure, "bad salt", err)
	}
	var iterations int
	if _, err := fmt.Sscanf(iterStr, "%d", &iterations); err != nil || iterations <= 0 {
		return nil, cberr.New(cberr.ErrAuthenticationFailure, "bad iteration count")
	}
	hf := hashFor(c.mech)
	c.saltedPassword = pbkdf2.Key([]byte(c.password), saltBytes, iterations, hf().Size(), hf)

	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalNoProof := "c=" + channelBinding + ",r=" + serverNonce
	c.authMessage = c.clientFirstBare + "," + c.serverFirst + "," + clientFinalNoProof

	clientKey := hmacSum(hf, c.saltedPassword, []byte("Client Key"))
	storedKey := hashSum(hf, clientKey)
	clientSig := hmacSum(hf, storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSig)

	msg := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(msg), nil
}

// VerifyServerFinal checks the server's verifier (v=...) against the
// locally computed ServerSignature. A mismatch means the server cannot
// prove it knows the password and authentication must fail.
func (c *ScramClient) VerifyServerFinal(serverFinal []byte) error {
	fields := parseScram(string(serverFinal))
	v := fields["v"]
	if v == "" {
		if e := fields["e"]; e != "" {
			return cberr.New(cberr.ErrAuthenticationFailure, e)
		}
		return cberr.New(cberr.ErrAuthenticationFailure, "missing server verifier")
	}
	got, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return cberr.Wrap(cberr.ErrAuthenticationFailure, "bad server verifier", err)
	}
	hf := hashFor(c.mech)
	serverKey := hmacSum(hf, c.saltedPassword, []byte("Server Key"))
	want := hmacSum(hf, serverKey, []byte(c.authMessage))
	if !hmac.Equal(got, want) {
		return cberr.New(cberr.ErrAuthenticationFailure, "server signature mismatch")
	}
	return nil
}

// RandomNonce produces a fresh base64 client nonce suitable for ClientFirst.
func RandomNonce() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", cberr.Wrap(cberr.ErrInternalServerFailure, "nonce generation", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func saslName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseScram(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		if i := strings.IndexByte(part, '='); i > 0 {
			out[part[:i]] = part[i+1:]
		}
	}
	return out
}

func hmacSum(hf func() hash.Hash, key, msg []byte) []byte {
	h := hmac.New(hf, key)
	h.Write(msg)
	return h.Sum(nil)
}

func hashSum(hf func() hash.Hash, msg []byte) []byte {
	h := hf()
	h.Write(msg)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// EncodePlain builds the SASL PLAIN auth value: \0user\0password.
func EncodePlain(user, password string) []byte {
	return []byte("\x00" + user + "\x00" + password)
}
