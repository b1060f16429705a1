package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestSplitIDs(t *testing.T) {
	got := splitIDs([]string{"AAPL, msft", "", "NVDA,"})
	want := []string{"AAPL", "msft", "NVDA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitIDs() = %v, want %v", got, want)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"batch", "import", "instruments", "invalidate", "run", "strategies", "stream", "version"}
	for _, name := range want {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestInvalidateCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/cache/AAPL" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"instrument_id":"AAPL","removed":3}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"invalidate", "AAPL", "--server", srv.URL})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "removed 3") {
		t.Errorf("output = %q", out.String())
	}
}

func TestInstrumentsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/instruments" || r.URL.Query().Get("interval") != "1h" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"interval":"1h","instruments":["AAPL","MSFT"]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"instruments", "--interval", "1h", "--server", srv.URL})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.String() != "AAPL\nMSFT\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestImportFlagValidation(t *testing.T) {
	rootCmd.SetArgs([]string{"import"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("import without source error = %v", err)
	}
}
