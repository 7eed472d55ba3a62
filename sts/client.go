// Package sts performs the AssumeRole token exchange: it builds a
// SigV4-signed POST against the token-issuing endpoint and parses the XML
// response into a temporary credential.
package sts

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kafkatools/msk-iam-auth/credstore"
	"github.com/kafkatools/msk-iam-auth/sigv4"
)

const (
	// DefaultEndpoint is the global STS endpoint.
	DefaultEndpoint = "sts.amazonaws.com"

	// Timeout bounds the whole exchange round trip.
	Timeout = 60 * time.Second

	serviceName   = "sts"
	apiVersion    = "2011-06-15"
	methodPost    = "POST"
	contentType   = "application/x-www-form-urlencoded; charset=utf-8"
	signedHeaders = "content-length;content-type;host;x-amz-date"
)

// TLSConfig carries optional mutual-TLS material, passed through unchanged
// from client configuration.
type TLSConfig struct {
	ClientCertPEM []byte
	ClientKeyPEM  []byte
	CAPEM         []byte
}

// ClientOptions configures a Client. The zero value targets the global STS
// endpoint with a default HTTP client.
type ClientOptions struct {
	// Endpoint is the STS host name (no scheme). Defaults to
	// DefaultEndpoint; regional endpoints can be supplied instead.
	Endpoint string

	// HTTPClient, if set, replaces the default client. TLS is ignored
	// when a client is supplied.
	HTTPClient *http.Client

	// HTTPClientTimeout overrides the default Timeout.
	HTTPClientTimeout *time.Duration

	// TLS supplies client certificate/key/CA material for mutual TLS.
	TLS *TLSConfig

	// UserAgent defaults to "msk-iam-auth".
	UserAgent string
}

// Client exchanges a base credential for temporary credentials via
// AssumeRole. Safe for concurrent use.
type Client struct {
	endpoint   string
	baseURL    string
	userAgent  string
	httpClient *http.Client

	// now is a test hook.
	now func() time.Time
}

// AssumeRoleInput identifies the role to assume.
type AssumeRoleInput struct {
	RoleARN         string
	RoleSessionName string
	ExternalID      string
	DurationSeconds int
}

// NewClient creates a Client. An error is returned only when the supplied
// TLS material cannot be loaded.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	c := &Client{
		endpoint:  opts.Endpoint,
		userAgent: opts.UserAgent,
		now:       time.Now,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.userAgent == "" {
		c.userAgent = "msk-iam-auth"
	}
	c.baseURL = "https://" + c.endpoint

	if opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
		return c, nil
	}

	timeout := Timeout
	if opts.HTTPClientTimeout != nil {
		timeout = *opts.HTTPClientTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: timeout,
	}
	if opts.TLS != nil {
		tlsConfig, err := opts.TLS.build()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	return c, nil
}

func (t *TLSConfig) build() (*tls.Config, error) {
	cfg := &tls.Config{}
	if len(t.ClientCertPEM) > 0 || len(t.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(t.ClientCertPEM, t.ClientKeyPEM)
		if err != nil {
			return nil, errors.Wrap(err, "loading client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if len(t.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(t.CAPEM) {
			return nil, errors.New("no CA certificates found in supplied PEM")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// AssumeRole signs and dispatches the exchange using base for signing, and
// returns the temporary credential parsed from the response. The returned
// credential carries base's region and, when STS omits or garbles the
// Expiration element, a fallback expiry of now+DurationSeconds.
func (c *Client) AssumeRole(ctx context.Context, base credstore.Credential, in AssumeRoleInput) (credstore.Credential, error) {
	ymd, hms := sigv4.FormatTimestamp(c.now())
	amzDate := sigv4.AmzDate(ymd, hms)

	body := c.requestParameters(in)
	canonicalHeaders := c.canonicalHeaders(len(body), amzDate)

	canonicalRequest := sigv4.BuildCanonicalRequest(methodPost, "", canonicalHeaders, signedHeaders, []byte(body))
	log.Debugf("sts: canonical_request=%q", canonicalRequest)

	scope := sigv4.CredentialScope(ymd, base.Region, serviceName)
	stringToSign := sigv4.BuildStringToSign(sigv4.Algorithm, scope, amzDate, canonicalRequest)
	log.Debugf("sts: string_to_sign=%q", stringToSign)

	signature := sigv4.Signature(base.SecretAccessKey, base.Region, ymd, serviceName, stringToSign)
	authorization := sigv4.AuthorizationHeader(sigv4.Algorithm, base.AccessKeyID, scope, signedHeaders, signature)

	req, err := http.NewRequestWithContext(ctx, methodPost, c.baseURL+"/", strings.NewReader(body))
	if err != nil {
		return credstore.Credential{}, errors.Wrap(err, "building sts request")
	}
	req.Host = c.endpoint
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", authorization)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", c.userAgent)

	if log.IsLevelEnabled(log.DebugLevel) {
		if dump, derr := httputil.DumpRequestOut(req, true); derr == nil {
			log.Debugf("sts: request:\n%s", dump)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure: there is no body to parse.
		return credstore.Credential{}, errors.Wrap(err, "sending sts request")
	}
	defer resp.Body.Close()

	if log.IsLevelEnabled(log.DebugLevel) {
		if dump, derr := httputil.DumpResponse(resp, false); derr == nil {
			log.Debugf("sts: response:\n%s", dump)
		}
	}

	// Accept-Encoding is set explicitly above, which opts out of the
	// transport's transparent decompression.
	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			return credstore.Credential{}, errors.Wrap(gerr, "decoding sts response")
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return credstore.Credential{}, errors.Wrap(err, "reading sts response")
	}

	parsed, err := parseAssumeRoleResponse(data)
	if err != nil {
		return credstore.Credential{}, err
	}

	cred := credstore.Credential{
		AccessKeyID:     parsed.accessKeyID,
		SecretAccessKey: parsed.secretAccessKey,
		Region:          base.Region,
		SecurityToken:   parsed.sessionToken,
		ExpiresAt:       parsed.expiration,
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = c.now().Add(time.Duration(in.DurationSeconds) * time.Second)
	}
	log.Debugf("sts: new credentials retrieved, access key id ends in %s, expire at %s",
		suffix(cred.AccessKeyID), cred.ExpiresAt.UTC().Format(time.RFC3339))
	return cred, nil
}

// requestParameters builds the form-encoded AssumeRole body. RoleArn and
// ExternalId are URI-encoded; RoleSessionName is passed through, matching
// the session-name character set STS accepts.
func (c *Client) requestParameters(in AssumeRoleInput) string {
	var b strings.Builder
	b.WriteString("Action=AssumeRole")
	b.WriteString("&DurationSeconds=")
	b.WriteString(strconv.Itoa(in.DurationSeconds))
	b.WriteString("&RoleArn=")
	b.WriteString(sigv4.URIEncode(in.RoleARN))
	b.WriteString("&RoleSessionName=")
	b.WriteString(in.RoleSessionName)
	if in.ExternalID != "" {
		b.WriteString("&ExternalId=")
		b.WriteString(sigv4.URIEncode(in.ExternalID))
	}
	b.WriteString("&Version=" + apiVersion)
	return b.String()
}

func (c *Client) canonicalHeaders(contentLength int, amzDate string) string {
	return fmt.Sprintf("content-length:%d\ncontent-type:%s\nhost:%s\nx-amz-date:%s\n",
		contentLength, contentType, c.endpoint, amzDate)
}

func suffix(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}
