package dancer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"atlasauth/pkg/logging"
)

// outcomeTimeout bounds how long the callback request waits for the dance
// to report its final result before answering the browser.
const outcomeTimeout = 2 * time.Minute

const listenRetryWindow = 2 * time.Second

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// CallbackResult is the query of the provider's redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError returns true if the provider reported a failed authorization.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// CallbackServer is a short-lived loopback listener receiving exactly one
// OAuth redirect. The browser's request is held open until Complete
// reports the outcome of the login, so the page shown matches the result.
type CallbackServer struct {
	addr        string
	path        string
	product     string
	redirectURL string

	server   *http.Server
	listener net.Listener

	resultCh  chan *CallbackResult
	errorCh   chan error
	outcomeCh chan error
	stopCh    chan struct{}

	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer creates a server listening on addr (host:port) for
// redirects to path. When redirectURL is set the browser is sent there
// after a successful login.
func NewCallbackServer(addr, path, product, redirectURL string) *CallbackServer {
	return &CallbackServer{
		addr:        addr,
		path:        path,
		product:     product,
		redirectURL: redirectURL,
		resultCh:    make(chan *CallbackResult, 1),
		errorCh:     make(chan error, 1),
		outcomeCh:   make(chan error, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start binds the listener and returns the callback URL actually served.
// The server stops when ctx is cancelled.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	listener, err := listenWithRetry(ctx, s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()

	url := fmt.Sprintf("http://%s%s", listener.Addr().String(), s.path)
	logging.Debug("Dancer", "Callback server listening on %s", url)
	return url, nil
}

// listenWithRetry binds addr, retrying briefly while a cancelled dance
// releases the same port.
func listenWithRetry(ctx context.Context, addr string) (net.Listener, error) {
	deadline := time.Now().Add(listenRetryWindow)
	for {
		listener, err := net.Listen("tcp", addr)
		if err == nil || time.Now().After(deadline) {
			return listener, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// WaitForCallback blocks until the redirect arrives, the server fails or
// ctx is done.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete reports the login outcome to the waiting browser request.
func (s *CallbackServer) Complete(err error) {
	select {
	case s.outcomeCh <- err:
	default:
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	select {
	case s.resultCh <- result:
	default:
	}

	var outcome error
	select {
	case outcome = <-s.outcomeCh:
	case <-s.stopCh:
		select {
		case outcome = <-s.outcomeCh:
		default:
			outcome = errors.New("login was cancelled")
		}
	case <-r.Context().Done():
		return
	case <-time.After(outcomeTimeout):
		outcome = errors.New("login did not complete in time")
	}

	if outcome == nil && s.redirectURL != "" {
		http.Redirect(w, r, s.redirectURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var err error
	if outcome == nil {
		err = successTemplate.Execute(w, map[string]string{"Product": s.product})
	} else {
		w.WriteHeader(http.StatusBadRequest)
		data := map[string]string{"Error": outcome.Error()}
		if result.IsError() {
			data["Error"] = result.Error
			data["Description"] = result.ErrorDescription
		}
		err = errorTemplate.Execute(w, data)
	}
	if err != nil {
		logging.Warn("Dancer", "Failed to render callback page: %v", err)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		logging.Debug("Dancer", "Callback server on %s stopped", s.addr)
	})
}
