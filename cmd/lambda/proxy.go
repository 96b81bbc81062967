package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// proxy adapts API Gateway proxy events to an http.Handler.
type proxy struct {
	handler http.Handler
}

func newProxy(h http.Handler) *proxy {
	return &proxy{handler: h}
}

func (p *proxy) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r, err := newRequest(ctx, event)
	if err != nil {
		slog.Warn("failed to convert proxy event", "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"invalid_request"}`,
		}, nil
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, r)
	return toResponse(rec.Result())
}

// newRequest builds the request the handler sees. Multi-value headers and
// query parameters win over their single-value forms.
func newRequest(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body = decoded
	}

	query := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if len(query) == 0 {
		for k, v := range event.QueryStringParameters {
			query.Set(k, v)
		}
	}
	u := url.URL{Path: event.Path, RawQuery: query.Encode()}
	if u.Path == "" {
		u.Path = "/"
	}

	r, err := http.NewRequestWithContext(ctx, event.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(event.MultiValueHeaders) > 0 {
		for k, vs := range event.MultiValueHeaders {
			for _, v := range vs {
				r.Header.Add(k, v)
			}
		}
	} else {
		for k, v := range event.Headers {
			r.Header.Set(k, v)
		}
	}
	if host := r.Header.Get("Host"); host != "" {
		r.Host = host
	}
	if ip := event.RequestContext.Identity.SourceIP; ip != "" {
		r.RemoteAddr = net.JoinHostPort(ip, "0")
	}
	r.ContentLength = int64(len(body))
	return r, nil
}

// toResponse copies a recorded response. Non-textual bodies such as captcha
// images are base64 encoded.
func toResponse(res *http.Response) (events.APIGatewayProxyResponse, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	out := events.APIGatewayProxyResponse{
		StatusCode:        res.StatusCode,
		MultiValueHeaders: map[string][]string(res.Header),
	}
	if isTextual(res.Header.Get("Content-Type")) {
		out.Body = string(body)
	} else {
		out.Body = base64.StdEncoding.EncodeToString(body)
		out.IsBase64Encoded = true
	}
	return out, nil
}

func isTextual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json"
}
