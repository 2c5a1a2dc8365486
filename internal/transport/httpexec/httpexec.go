// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpexec is the production core.RequestExecutor: a connection-
// reusing net/http client. Its transport tuning (idle-conn pooling,
// keep-alive, proxy-from-environment) and drain-then-close body handling
// are lifted directly from the teacher's tools/http-loadgen/main.go, which
// builds exactly this kind of client for its own demo load generator;
// generalized here from a single fixed client into one configured per
// core.TargetConfig (TLS, client certs, proxy, redirect policy).
package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"kaioken/internal/engine/core"
)

// Executor is a core.RequestExecutor backed by net/http.
type Executor struct {
	client          *http.Client
	followRedirects bool
}

// New builds an Executor from a finalized TargetConfig.
func New(target core.TargetConfig) (*Executor, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: target.InsecureTLS}
	if target.ClientCertFile != "" && target.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(target.ClientCertFile, target.ClientKeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	proxy := http.ProxyFromEnvironment
	if target.ProxyURL != "" {
		u, err := url.Parse(target.ProxyURL)
		if err != nil {
			return nil, err
		}
		proxy = http.ProxyURL(u)
	}

	connectTimeout := target.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy:               proxy,
		TLSClientConfig:      tlsConfig,
		MaxIdleConns:         4096,
		MaxIdleConnsPerHost:  4096,
		IdleConnTimeout:      90 * time.Second,
		DisableKeepAlives:    !target.KeepAlive,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}

	client := &http.Client{Transport: tr}
	if !target.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Executor{client: client, followRedirects: target.FollowRedirects}, nil
}

// WithJar returns a new Executor that shares this one's transport (and so
// its connection pool) but carries its own net/http/cookiejar, giving each
// VU an independent session while still reusing the process-wide pool of
// idle connections (spec.md: "one per VU ... makes multi-user session
// emulation correct").
func (e *Executor) WithJar() (core.RequestExecutor, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport:     e.client.Transport,
		CheckRedirect: e.client.CheckRedirect,
		Jar:           jar,
	}
	return &Executor{client: client, followRedirects: e.followRedirects}, nil
}

// Execute performs req against the configured client, respecting ctx's
// deadline as the full request-response-cycle timeout (spec.md §5:
// "timeout ... must include reading the body if captured").
func (e *Executor) Execute(ctx context.Context, req core.Request) core.OutcomeResult {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return core.OutcomeResult{Tag: core.ResultNetworkError, ErrKind: core.ErrOther}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.OutcomeResult{Tag: core.ResultTimeout}
		}
		if ctx.Err() == context.Canceled {
			return core.OutcomeResult{Tag: core.ResultCanceled}
		}
		return core.OutcomeResult{Tag: core.ResultNetworkError, ErrKind: e.Classify(err)}
	}
	defer resp.Body.Close()

	var respBody []byte
	var n int64
	if req.CaptureBody {
		respBody, err = io.ReadAll(resp.Body)
		n = int64(len(respBody))
	} else {
		n, err = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.OutcomeResult{Tag: core.ResultTimeout}
		}
		return core.OutcomeResult{Tag: core.ResultNetworkError, ErrKind: core.ErrOther}
	}

	return core.OutcomeResult{
		Tag:          core.ResultHTTPResponse,
		Status:       resp.StatusCode,
		Headers:      resp.Header,
		BytesIn:      n,
		BodyCaptured: req.CaptureBody,
		Body:         respBody,
	}
}

// Classify maps raw net/http transport errors to the engine's stable error
// taxonomy (spec.md §4.1).
func (e *Executor) Classify(err error) core.ErrorKind {
	if err == nil {
		return core.ErrOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return core.ErrDNS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return core.ErrConnect
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset"):
		return core.ErrReset
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return core.ErrTLS
	case strings.Contains(msg, "context canceled"):
		return core.ErrCanceled
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "protocol"):
		return core.ErrProtocol
	default:
		return core.ErrOther
	}
}

// SupportsBodyCapture is always true for the HTTP executor.
func (e *Executor) SupportsBodyCapture() bool { return true }

var (
	_ core.RequestExecutor = (*Executor)(nil)
	_ core.JarCloner       = (*Executor)(nil)
)
