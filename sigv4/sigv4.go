// Package sigv4 implements the AWS Signature Version 4 signing scheme as
// used by SASL/AWS_MSK_IAM: canonical request construction, string-to-sign
// derivation, the nested HMAC signing-key chain, and the SASL canonical
// query string and authentication payload.
//
// Every function here is pure. All separators and field orderings are part
// of the wire contract: the broker (or STS) independently reconstructs the
// canonical request and recomputes the signature, so output must match the
// reference byte-for-byte.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm identifier included in signed
	// requests and credential scopes.
	Algorithm = "AWS4-HMAC-SHA256"

	// ServiceKafka is the service name MSK brokers verify signatures for.
	ServiceKafka = "kafka-cluster"

	// ActionConnect is the IAM action asserted by the SASL payload.
	ActionConnect = "kafka-cluster:Connect"

	// PayloadVersion identifies the SASL payload format to the broker.
	PayloadVersion = "2020_10_22"

	// requestTerminator closes every credential scope.
	requestTerminator = "aws4_request"

	// expirySeconds is the signature validity window. AWS recommends 900.
	expirySeconds = "900"
)

// URIEncode percent-encodes s, leaving only the unreserved characters
// A-Za-z0-9 and -_.~ untouched. Hex digits are uppercase.
func URIEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z',
			c >= 'a' && c <= 'z',
			c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}
	return b.String()
}

// FormatTimestamp splits a point in time into the ymd ("20060102") and hms
// ("150405") components used throughout signing. The time is converted to
// UTC first; signatures over local time are rejected by AWS.
func FormatTimestamp(t time.Time) (ymd, hms string) {
	t = t.UTC()
	return t.Format("20060102"), t.Format("150405")
}

// AmzDate combines ymd and hms into the X-Amz-Date form "20060102T150405Z".
func AmzDate(ymd, hms string) string {
	return ymd + "T" + hms + "Z"
}

// CredentialScope binds a signature to a day, region and service:
// "ymd/region/service/aws4_request".
func CredentialScope(ymd, region, service string) string {
	return ymd + "/" + region + "/" + service + "/" + requestTerminator
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// BuildCanonicalRequest assembles the newline-joined canonical request:
// method, the fixed canonical URI "/", the canonical query string (may be
// empty), the canonical headers, the signed-headers list and the hex SHA-256
// digest of the body.
//
// canonicalHeaders must be newline-terminated ("host:hostname\n"); the join
// below then produces the blank line separating headers from the
// signed-headers list that the SigV4 contract requires.
func BuildCanonicalRequest(method, canonicalQueryString, canonicalHeaders, signedHeaders string, body []byte) string {
	return strings.Join([]string{
		method,
		"/",
		canonicalQueryString,
		canonicalHeaders,
		signedHeaders,
		hashHex(body),
	}, "\n")
}

// BuildStringToSign derives the string-to-sign from a canonical request:
// algorithm, amz-date, credential scope and the hex SHA-256 digest of the
// canonical request, newline-joined.
func BuildStringToSign(algorithm, credentialScope, amzDate, canonicalRequest string) string {
	return strings.Join([]string{
		algorithm,
		amzDate,
		credentialScope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")
}

// Signature runs the four-stage HMAC-SHA256 key derivation chain and signs
// stringToSign with the resulting key, returning the lowercase hex
// signature. Each stage's raw output keys the next; only the final HMAC is
// hex-encoded.
func Signature(secretAccessKey, region, ymd, service, stringToSign string) string {
	key := hmacSHA256([]byte("AWS4"+secretAccessKey), []byte(ymd))
	key = hmacSHA256(key, []byte(region))
	key = hmacSHA256(key, []byte(service))
	key = hmacSHA256(key, []byte(requestTerminator))
	return hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))
}

// AuthorizationHeader formats the Authorization header value:
// "ALGO Credential=key/scope, SignedHeaders=..., Signature=...".
func AuthorizationHeader(algorithm, accessKeyID, credentialScope, signedHeaders, signature string) string {
	var b strings.Builder
	b.WriteString(algorithm)
	b.WriteString(" Credential=")
	b.WriteString(accessKeyID)
	b.WriteString("/")
	b.WriteString(credentialScope)
	b.WriteString(", SignedHeaders=")
	b.WriteString(signedHeaders)
	b.WriteString(", Signature=")
	b.WriteString(signature)
	return b.String()
}

// BuildSASLCanonicalQueryString produces the canonical query string for the
// SASL authentication payload. Field order is fixed by the broker's
// verification logic; X-Amz-Security-Token appears between X-Amz-Expires and
// X-Amz-SignedHeaders only when a token is present.
func BuildSASLCanonicalQueryString(action, accessKeyID, region, ymd, hms, service, securityToken string) string {
	scope := CredentialScope(ymd, region, service)

	var b strings.Builder
	b.WriteString("Action=")
	b.WriteString(URIEncode(action))
	b.WriteString("&X-Amz-Algorithm=" + Algorithm)
	b.WriteString("&X-Amz-Credential=")
	b.WriteString(URIEncode(accessKeyID + "/" + scope))
	b.WriteString("&X-Amz-Date=")
	b.WriteString(URIEncode(AmzDate(ymd, hms)))
	b.WriteString("&X-Amz-Expires=" + expirySeconds)
	if securityToken != "" {
		b.WriteString("&X-Amz-Security-Token=")
		b.WriteString(URIEncode(securityToken))
	}
	b.WriteString("&X-Amz-SignedHeaders=host")
	return b.String()
}

// BuildSASLPayload signs the canonical request and assembles the JSON object
// sent as the client's first SASL frame. The payload is built by hand: key
// order is part of the broker contract and a JSON encoder would not preserve
// it. securityToken may be empty, in which case the x-amz-security-token key
// is omitted.
func BuildSASLPayload(ymd, hms, host, accessKeyID, secretAccessKey, securityToken,
	region, service, method, userAgent, canonicalHeaders, canonicalQueryString,
	signedHeaders string, body []byte) string {

	canonicalRequest := BuildCanonicalRequest(method, canonicalQueryString,
		canonicalHeaders, signedHeaders, body)
	scope := CredentialScope(ymd, region, service)
	amzDate := AmzDate(ymd, hms)
	stringToSign := BuildStringToSign(Algorithm, scope, amzDate, canonicalRequest)
	signature := Signature(secretAccessKey, region, ymd, service, stringToSign)

	var b strings.Builder
	b.WriteString(`{"version":"` + PayloadVersion + `",`)
	b.WriteString(`"host":"` + host + `",`)
	b.WriteString(`"user-agent":"` + userAgent + `",`)
	b.WriteString(`"action":"` + ActionConnect + `",`)
	b.WriteString(`"x-amz-algorithm":"` + Algorithm + `",`)
	b.WriteString(`"x-amz-credential":"` + accessKeyID + "/" + scope + `",`)
	b.WriteString(`"x-amz-date":"` + amzDate + `",`)
	if securityToken != "" {
		b.WriteString(`"x-amz-security-token":"` + securityToken + `",`)
	}
	b.WriteString(`"x-amz-signedheaders":"host",`)
	b.WriteString(`"x-amz-expires":"` + expirySeconds + `",`)
	b.WriteString(`"x-amz-signature":"` + signature + `"}`)
	return b.String()
}
