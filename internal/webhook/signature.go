package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature derives the expected signature for a webhook delivery:
// HMAC-SHA1 over the full callback URL concatenated with the form body
// serialized with keys in sorted order, base64 encoded.
func ComputeSignature(authToken, callbackURL string, form url.Values) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(callbackURL))
	mac.Write([]byte(canonicalForm(form)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature against the recomputed one in
// constant time. An empty presented signature never verifies.
func VerifySignature(authToken, callbackURL string, form url.Values, presented string) bool {
	if presented == "" {
		return false
	}
	expected := ComputeSignature(authToken, callbackURL, form)
	return hmac.Equal([]byte(presented), []byte(expected))
}

// canonicalForm serializes the form the way the provider signs it. The
// provider signs key-value pairs concatenated in sorted key order without
// percent-encoding, so url.Values.Encode (which escapes) is not usable here.
func canonicalForm(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	for _, k := range keys {
		for _, v := range form[k] {
			b = append(b, k...)
			b = append(b, v...)
		}
	}
	return string(b)
}
