package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keithlinneman/academy-portal/internal/log"
)

// spyLogger captures Error calls for assertions.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	errors []spyError
}

type spyError struct {
	msg string
	err error
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop()}
}

// With returns self so Error calls still land here
func (s *spyLogger) With(kv ...any) log.Logger { return s }

func (s *spyLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, spyError{msg: msg, err: err})
}

func (s *spyLogger) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func TestRecover(t *testing.T) {
	boom := errors.New("directory lookup exploded")

	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
		logged  bool
		wantIs  error
	}{
		{
			name:    "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) },
			status:  http.StatusCreated,
		},
		{
			name:    "string panic",
			handler: func(w http.ResponseWriter, r *http.Request) { panic("something broke") },
			status:  http.StatusInternalServerError,
			logged:  true,
		},
		{
			name:    "error panic keeps cause",
			handler: func(w http.ResponseWriter, r *http.Request) { panic(boom) },
			status:  http.StatusInternalServerError,
			logged:  true,
			wantIs:  boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpyLogger()
			panics := 0
			rec := httptest.NewRecorder()
			Recover(spy, func() { panics++ })(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", http.NoBody))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := spy.count(); (got == 1) != tt.logged {
				t.Fatalf("logged errors = %d, want logged=%v", got, tt.logged)
			}
			if tt.logged {
				if panics != 1 {
					t.Errorf("onPanic calls = %d, want 1", panics)
				}
				if spy.errors[0].msg != "httpserver panic recovered" {
					t.Errorf("msg = %q", spy.errors[0].msg)
				}
				if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
					t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
				}
				if rec.Body.String() != "{\"error\":\"internal error\"}\n" {
					t.Errorf("body = %q", rec.Body.String())
				}
			}
			if tt.wantIs != nil && !errors.Is(spy.errors[0].err, tt.wantIs) {
				t.Errorf("logged error %v does not wrap %v", spy.errors[0].err, tt.wantIs)
			}
		})
	}
}

func TestRecover_NilCallbackAndLogger(t *testing.T) {
	rec := httptest.NewRecorder()
	Recover(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	Recover(newSpyLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
