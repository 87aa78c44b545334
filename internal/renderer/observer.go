package renderer

import (
	"encoding/base64"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// maxCapturedBodyBytes bounds how much of a response body the observer will
// decode and retain per response (spec §4.3: "up to 10 MiB").
const maxCapturedBodyBytes = 10 * 1024 * 1024

// apiCandidateMinBytes is the minimum captured body size for a JSON response
// to be considered an API candidate (spec §4.3).
const apiCandidateMinBytes = 500

// denyListHosts are analytics/consent/tracking hosts excluded from the API
// candidate view even if they otherwise match (spec §4.3).
var denyListHosts = []string{
	"google-analytics.com", "googletagmanager.com", "doubleclick.net",
	"facebook.net", "facebook.com", "hotjar.com", "segment.io",
	"segment.com", "onetrust.com", "cookiebot.com", "trustarc.com",
	"cloudflareinsights.com", "sentry.io", "newrelic.com",
}

// RequestRecord is one observed HTTP request made during a session.
type RequestRecord struct {
	RequestID    string
	Method       string
	URL          string
	Headers      map[string]string
	ResourceType string
	Timestamp    time.Time
}

// ResponseRecord is the response half of one observed HTTP exchange.
type ResponseRecord struct {
	RequestID     string
	Status        int
	Headers       map[string]string
	ContentType   string
	EncodedSize   int64
	FromCache     bool
	Body          []byte
	BodyTruncated bool
	Timestamp     time.Time
}

// Exchange pairs a request with its (possibly absent, if still in flight or
// failed) response.
type Exchange struct {
	Request  RequestRecord
	Response *ResponseRecord
	Failed   bool
}

// NetworkObserver records every request/response seen on a page for the
// lifetime of a session. Per request-id, requestWillBeSent precedes
// responseReceived precedes loadingFinished|loadingFailed (spec §4.3); across
// request-ids there is no ordering guarantee, so an internal mutex guards the
// shared map rather than relying on event delivery order.
type NetworkObserver struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]*Exchange
	page    *rod.Page
	stopFns []func()
}

func newNetworkObserver(page *rod.Page) *NetworkObserver {
	return &NetworkObserver{
		byID: make(map[string]*Exchange),
		page: page,
	}
}

// attach registers CDP event handlers. It must be called before navigation so
// no requests are missed. The returned function detaches the observer.
func (o *NetworkObserver) attach() (stop func()) {
	stopEvents := o.page.EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			o.mu.Lock()
			defer o.mu.Unlock()
			id := string(ev.RequestID)
			headers := map[string]string{}
			for k, v := range ev.Request.Headers {
				headers[k] = v.String()
			}
			o.byID[id] = &Exchange{Request: RequestRecord{
				RequestID:    id,
				Method:       ev.Request.Method,
				URL:          ev.Request.URL,
				Headers:      headers,
				ResourceType: string(ev.Type),
				Timestamp:    time.Now(),
			}}
			o.order = append(o.order, id)
		},
		func(ev *proto.NetworkResponseReceived) {
			o.mu.Lock()
			ex, ok := o.byID[string(ev.RequestID)]
			o.mu.Unlock()
			if !ok {
				return
			}
			headers := map[string]string{}
			for k, v := range ev.Response.Headers {
				headers[k] = v.String()
			}
			resp := &ResponseRecord{
				RequestID:   string(ev.RequestID),
				Status:      ev.Response.Status,
				Headers:     headers,
				ContentType: ev.Response.MIMEType,
				EncodedSize: int64(ev.Response.EncodedDataLength),
				FromCache:   ev.Response.FromDiskCache || ev.Response.FromServiceWorker,
				Timestamp:   time.Now(),
			}
			o.mu.Lock()
			ex.Response = resp
			o.mu.Unlock()
		},
		func(ev *proto.NetworkLoadingFinished) {
			o.captureBody(string(ev.RequestID))
		},
		func(ev *proto.NetworkLoadingFailed) {
			o.mu.Lock()
			if ex, ok := o.byID[string(ev.RequestID)]; ok {
				ex.Failed = true
			}
			o.mu.Unlock()
		},
	)
	return stopEvents
}

// captureBody fetches and decodes the response body for a finished request,
// bounded to maxCapturedBodyBytes. Failures are tolerated: the body is simply
// left empty (the request/response metadata is still useful).
func (o *NetworkObserver) captureBody(requestID string) {
	o.mu.Lock()
	ex, ok := o.byID[requestID]
	o.mu.Unlock()
	if !ok || ex.Response == nil {
		return
	}

	result, err := proto.NetworkGetResponseBody{RequestID: proto.NetworkRequestID(requestID)}.Call(o.page)
	if err != nil {
		return
	}

	var body []byte
	if result.Base64Encoded {
		body, err = base64.StdEncoding.DecodeString(result.Body)
		if err != nil {
			return
		}
	} else {
		body = []byte(result.Body)
	}

	truncated := false
	if len(body) > maxCapturedBodyBytes {
		body = body[:maxCapturedBodyBytes]
		truncated = true
	}

	o.mu.Lock()
	ex.Response.Body = body
	ex.Response.BodyTruncated = truncated
	o.mu.Unlock()
}

// All returns the full chronological log of exchanges observed so far.
func (o *NetworkObserver) All() []Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Exchange, 0, len(o.order))
	for _, id := range o.order {
		if ex, ok := o.byID[id]; ok {
			out = append(out, *ex)
		}
	}
	return out
}

// APICandidates returns successful 2xx JSON responses at least
// apiCandidateMinBytes, excluding deny-listed hosts (spec §4.3).
func (o *NetworkObserver) APICandidates() []Exchange {
	var out []Exchange
	for _, ex := range o.All() {
		if ex.Response == nil || ex.Failed {
			continue
		}
		if ex.Response.Status < 200 || ex.Response.Status >= 300 {
			continue
		}
		if !strings.Contains(strings.ToLower(ex.Response.ContentType), "json") {
			continue
		}
		if len(ex.Response.Body) < apiCandidateMinBytes {
			continue
		}
		if isDenyListed(ex.Request.URL) {
			continue
		}
		out = append(out, ex)
	}
	return out
}

func isDenyListed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, deny := range denyListHosts {
		if host == deny || strings.HasSuffix(host, "."+deny) {
			return true
		}
	}
	return false
}
