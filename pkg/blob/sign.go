package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	signingService   = "s3"
	amzDateFormat    = "20060102T150405Z"
	dateStampFormat  = "20060102"
)

// sign authorizes a request with SigV4. bodyHash is the hex SHA-256 of the
// payload and must already be computed; it doubles as the
// x-amz-content-sha256 header.
func (c *Client) sign(req *http.Request, bodyHash string, now time.Time) {
	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", bodyHash)

	// S3-style signing covers a fixed header set, not whatever the transport
	// adds later.
	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	if req.Header.Get("Content-Type") != "" {
		signedHeaders = append([]string{"content-type"}, signedHeaders...)
	}

	var canonicalHeaders strings.Builder
	for _, name := range signedHeaders {
		if name == "host" {
			fmt.Fprintf(&canonicalHeaders, "host:%s\n", req.Host)
			continue
		}
		fmt.Fprintf(&canonicalHeaders, "%s:%s\n", name, req.Header.Get(http.CanonicalHeaderKey(name)))
	}

	canonicalURI := uriEncodePath(req.URL.Path)
	if canonicalURI == "" {
		canonicalURI = "/"
	}
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		req.URL.RawQuery,
		canonicalHeaders.String(),
		strings.Join(signedHeaders, ";"),
		bodyHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, c.cfg.Region, signingService)
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		credentialScope,
		hashSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := c.keys.get(now, c.cfg.SecretAccessKey, dateStamp, c.cfg.Region, signingService)
	signature := hmacSHA256Hex(signingKey, stringToSign)

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signingAlgorithm,
		c.cfg.AccessKeyID,
		credentialScope,
		strings.Join(signedHeaders, ";"),
		signature,
	))
}

// uriEncodePath percent-encodes each path segment per the SigV4 spec,
// preserving slashes.
func uriEncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return strings.Join(segments, "/")
}

// uriEncode percent-encodes everything but the RFC 3986 unreserved set.
func uriEncode(s string) string {
	var buf strings.Builder
	for _, b := range []byte(s) {
		if isUnreserved(b) {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~'
}

func hashSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	return hex.EncodeToString(hmacSHA256(key, data))
}

// getSignatureKey derives the SigV4 signing key for one credential scope.
func getSignatureKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
