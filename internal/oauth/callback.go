package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	stdlog "log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CallbackResult is the outcome of one authorization redirect: either an
// authorization code or an error reason.
type CallbackResult struct {
	Code  string
	Error string
}

// OK reports whether the callback carried an authorization code.
func (r CallbackResult) OK() bool {
	return r.Code != ""
}

// ListenConfig describes where the loopback listener binds and which
// redirect path it answers.
type ListenConfig struct {
	Host string
	Port int

	// Path is the redirect path (e.g. "/callback"). Requests to any other
	// path receive 404 and do not complete the attempt. An empty Path
	// accepts every path.
	Path string

	// Label prefixes the confirmation page heading (e.g. "Zoom").
	Label string

	// State, when set, must match the redirect's state parameter or the
	// attempt fails with ReasonState.
	State string

	Logger zerolog.Logger
}

// CallbackListener is a short-lived local HTTP endpoint that captures a
// single OAuth redirect.
type CallbackListener struct {
	cfg    ListenConfig
	ln     net.Listener
	srv    *http.Server
	result chan CallbackResult
	once   sync.Once
	closed sync.Once
	log    zerolog.Logger
}

// shutdownTimeout bounds how long the listener waits for the confirmation
// page to finish writing before releasing the port.
const shutdownTimeout = 2 * time.Second

// Listen binds the loopback address and starts serving in the background.
// The caller must call Wait or Close to release the port.
func Listen(cfg ListenConfig) (*CallbackListener, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding callback listener on %s: %w", addr, err)
	}

	l := &CallbackListener{
		cfg:    cfg,
		ln:     ln,
		result: make(chan CallbackResult, 1),
		log:    cfg.Logger.With().Str("component", "callback").Logger(),
	}
	l.srv = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(debugWriter{log: l.log}, "", 0),
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error().Err(err).Msg("callback listener stopped")
		}
	}()

	return l, nil
}

// debugWriter logs each line net/http writes to its error log at debug
// level.
type debugWriter struct {
	log zerolog.Logger
}

func (w debugWriter) Write(p []byte) (int, error) {
	w.log.Debug().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

// WaitForCallback binds the listener, waits for one redirect, and
// releases the port. The returned error is non-nil only when binding
// fails.
func WaitForCallback(
	ctx context.Context,
	cfg ListenConfig,
	timeout time.Duration,
) (CallbackResult, error) {
	l, err := Listen(cfg)
	if err != nil {
		return CallbackResult{Error: ReasonListener}, err
	}
	return l.Wait(ctx, timeout), nil
}

// Addr returns the bound address, useful when Port was 0.
func (l *CallbackListener) Addr() string {
	return l.ln.Addr().String()
}

// Port returns the bound TCP port.
func (l *CallbackListener) Port() int {
	if tcp, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Wait blocks until a redirect arrives, the timeout elapses, or ctx is
// cancelled, then shuts the listener down. A non-positive timeout waits
// until ctx is done.
func (l *CallbackListener) Wait(ctx context.Context, timeout time.Duration) CallbackResult {
	defer l.Close()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-l.result:
		return res
	case <-expired:
		return CallbackResult{Error: ReasonTimeout}
	case <-ctx.Done():
		return CallbackResult{Error: ReasonCancelled}
	}
}

// Close shuts the server down and releases the port. It is safe to call
// more than once.
func (l *CallbackListener) Close() {
	l.closed.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			_ = l.srv.Close()
		}
	})
}

// ServeHTTP answers the redirect. Query contents are never logged.
func (l *CallbackListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if l.cfg.Path != "" && r.URL.Path != l.cfg.Path {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	res := CallbackResult{Code: query.Get("code")}
	if res.Code == "" {
		res.Error = query.Get("error")
		if res.Error == "" {
			res.Error = ReasonMissingCode
		}
	} else if l.cfg.State != "" && query.Get("state") != l.cfg.State {
		res = CallbackResult{Error: ReasonState}
	}

	delivered := false
	l.once.Do(func() {
		l.result <- res
		delivered = true
	})

	switch {
	case !delivered:
		l.render(w, http.StatusConflict, page{
			Title:   "Authorization Already Handled",
			Heading: "This authorization request was already handled.",
			Message: "You can close this window.",
		})
	case res.OK():
		l.log.Debug().Msg("authorization code received")
		l.render(w, http.StatusOK, page{
			Title:     "Authorization Successful",
			Heading:   l.heading("authorization successful!"),
			Message:   "You can now close this window and return to the application.",
			AutoClose: true,
		})
	default:
		l.log.Debug().Msg("authorization callback without code")
		l.render(w, http.StatusBadRequest, page{
			Title:   "Authorization Failed",
			Heading: l.heading("authorization failed!"),
			Message: "Please try again.",
		})
	}
}

func (l *CallbackListener) heading(text string) string {
	if l.cfg.Label == "" {
		return "A" + text[1:]
	}
	return l.cfg.Label + " " + text
}

type page struct {
	Title     string
	Heading   string
	Message   string
	AutoClose bool
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h2>{{.Heading}}</h2>
<p>{{.Message}}</p>
{{if .AutoClose}}<script>setTimeout(function () { window.close(); }, 3000);</script>{{end}}
</body>
</html>
`))

func (l *CallbackListener) render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		l.log.Debug().Err(err).Msg("writing callback page")
	}
}
