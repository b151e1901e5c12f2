package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"

	"github.com/pingtower/pingtower/internal/model"
)

// errKind is the failure category surfaced in CheckResult.ErrorText.
type errKind int

const (
	errTimeout errKind = iota
	errSSL
	errConnection
	errClient
	errUnexpected
)

// classifyErr maps a transport error to its failure category and the bounded
// error text. The categories mirror what the rest of the system branches on:
// timeouts and connection errors are retry-eligible, SSL errors may trigger
// one insecure retry.
func classifyErr(err error) (errKind, string) {
	if err == nil {
		return errUnexpected, ""
	}

	if isTimeout(err) {
		return errTimeout, "Timeout"
	}
	if isTLSError(err) {
		return errSSL, "SSL error"
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return errConnection, "Connection error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errClient, model.TruncateError("Client error: " + urlErr.Err.Error())
	}
	return errUnexpected, model.TruncateError("Unexpected error: " + err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	return errors.As(err, &certErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr)
}
