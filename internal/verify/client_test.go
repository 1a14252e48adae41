package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"facepresence/internal/auth"
)

var testIdentity = auth.Identity{Roll: "21CS042", Name: "Asha Rao", Email: "asha@example.edu"}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		var req struct {
			Roll   string    `json:"roll"`
			Vector []float64 `json:"vector"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Roll != testIdentity.Roll {
			t.Errorf("roll not carried: %q", req.Roll)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyRecognizedWithConfidence(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"recognized":true,"confidence":0.92}`)
	c := New(srv.URL, false)

	out, err := c.Verify(context.Background(), testIdentity, []float64{0.1, 0.2})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !out.Recognized || out.Confidence != 0.92 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestVerifySuccessFieldCounts(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"success":true}`)
	c := New(srv.URL, false)

	out, err := c.Verify(context.Background(), testIdentity, []float64{0.1})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !out.Recognized {
		t.Fatal("success field alone must count as recognized")
	}
	if out.Confidence != DefaultConfidence {
		t.Fatalf("missing confidence must default to %v, got %v", DefaultConfidence, out.Confidence)
	}
}

func TestVerifyRejection(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"recognized":false,"success":false,"confidence":0.31}`)
	c := New(srv.URL, false)

	out, err := c.Verify(context.Background(), testIdentity, []float64{0.1})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if out.Recognized {
		t.Fatal("expected rejection")
	}
	if out.Confidence != 0.31 {
		t.Fatalf("confidence not carried: %v", out.Confidence)
	}
}

func TestVerifyServiceError(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, `upstream down`)
	c := New(srv.URL, false)

	if _, err := c.Verify(context.Background(), testIdentity, []float64{0.1}); err == nil {
		t.Fatal("expected an error on non-2xx")
	}
}

func TestVerifyTransportFailure(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`)
	srv.Close()
	c := New(srv.URL, false)

	if _, err := c.Verify(context.Background(), testIdentity, []float64{0.1}); err == nil {
		t.Fatal("expected a transport error")
	}
}

func TestVerifySkip(t *testing.T) {
	c := New("http://never-called.invalid", true)
	out, err := c.Verify(context.Background(), testIdentity, nil)
	if err != nil {
		t.Fatalf("skip mode must not fail: %v", err)
	}
	if !out.Recognized {
		t.Fatal("skip mode must recognize")
	}
}
