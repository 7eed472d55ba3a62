package sts

import (
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

// ErrUnknownResponse is returned when the response body is not one of the
// two recognized shapes (AssumeRole credentials or ErrorResponse).
var ErrUnknownResponse = errors.New("sts: unknown error")

// RemoteError is a well-formed rejection from the token-issuing endpoint;
// Message is surfaced verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// The XML parser is not assumed reentrant across goroutines; every parse in
// the process, regardless of which Client issued the request, is serialized
// through this one lock.
var parserMu sync.Mutex

type assumeRoleCredentials struct {
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	expiration      time.Time
}

// parseAssumeRoleResponse walks the response element tree. Recognized
// shapes:
//
//	ErrorResponse > Error > Message        -> RemoteError
//	* > AssumeRoleResult > Credentials     -> credential fields
//
// Anything else yields ErrUnknownResponse.
func parseAssumeRoleResponse(data []byte) (assumeRoleCredentials, error) {
	parserMu.Lock()
	defer parserMu.Unlock()

	var out assumeRoleCredentials

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return out, ErrUnknownResponse
	}
	root := doc.Root()
	if root == nil {
		return out, ErrUnknownResponse
	}

	if root.Tag == "ErrorResponse" {
		if msg := root.FindElement("Error/Message"); msg != nil {
			return out, &RemoteError{Message: msg.Text()}
		}
		return out, ErrUnknownResponse
	}

	creds := root.FindElement("AssumeRoleResult/Credentials")
	if creds == nil {
		return out, ErrUnknownResponse
	}

	for _, child := range creds.ChildElements() {
		switch child.Tag {
		case "AccessKeyId":
			out.accessKeyID = child.Text()
		case "SecretAccessKey":
			out.secretAccessKey = child.Text()
		case "SessionToken":
			out.sessionToken = child.Text()
		case "Expiration":
			// "YYYY-MM-DDTHH:MM:SS[.fff]Z", UTC. A garbled value
			// leaves the zero time; the caller falls back to the
			// requested duration.
			if t, err := time.Parse(time.RFC3339Nano, child.Text()); err == nil {
				out.expiration = t.UTC()
			}
		}
	}
	return out, nil
}
