package mint

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cashumint/mintd/cashu/nuts/nut01"
	"github.com/gorilla/mux"
)

func TestHandleV1KeysReturnsActiveKeyset(t *testing.T) {
	m, _ := testMint(t)
	s := &Server{mint: m}

	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	w := httptest.NewRecorder()
	s.handleV1Keys(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d but got %d", http.StatusOK, w.Code)
	}

	var resp nut01.GetKeysResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error decoding response: %v", err)
	}
	if len(resp.Keysets) != 1 || resp.Keysets[0].Id != m.v1Keyset.Id {
		t.Fatalf("unexpected keysets in response: %+v", resp.Keysets)
	}
}

func TestHandleV1KeysByIdUnknownKeyset(t *testing.T) {
	m, _ := testMint(t)
	s := &Server{mint: m}

	req := httptest.NewRequest(http.MethodGet, "/v1/keys/deadbeefdeadbeef", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "deadbeefdeadbeef"})
	w := httptest.NewRecorder()
	s.handleV1KeysById(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d but got %d", http.StatusBadRequest, w.Code)
	}

	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error decoding error body: %v", err)
	}
	if body.Code != CodeKeysetNotFound {
		t.Fatalf("expected code %v but got %v", CodeKeysetNotFound, body.Code)
	}
}

func TestHandleMintQuoteBolt11RejectsUnsupportedUnit(t *testing.T) {
	m, _ := testMint(t)
	s := &Server{mint: m}

	body := `{"amount": 21, "unit": "usd"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/mint/quote/bolt11", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleMintQuoteBolt11(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d but got %d", http.StatusBadRequest, w.Code)
	}

	var errBody errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("error decoding error body: %v", err)
	}
	if errBody.Code != CodeInvalidAmount {
		t.Fatalf("expected code %v but got %v", CodeInvalidAmount, errBody.Code)
	}
}

func TestHandleMintQuoteBolt11AndGetState(t *testing.T) {
	m, _ := testMint(t)
	s := &Server{mint: m}

	body := `{"amount": 21, "unit": "sat"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/mint/quote/bolt11", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleMintQuoteBolt11(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d but got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var quoteResp struct {
		Quote   string `json:"quote"`
		Request string `json:"request"`
		Paid    bool   `json:"paid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &quoteResp); err != nil {
		t.Fatalf("error decoding quote response: %v", err)
	}
	if quoteResp.Quote == "" || quoteResp.Request == "" {
		t.Fatalf("expected a populated quote and request, got %+v", quoteResp)
	}
	if quoteResp.Paid {
		t.Fatal("expected a newly created quote to report paid=false")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/mint/quote/bolt11/"+quoteResp.Quote, nil)
	getReq = mux.SetURLVars(getReq, map[string]string{"id": quoteResp.Quote})
	getW := httptest.NewRecorder()
	s.handleGetMintQuoteBolt11(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected status %d but got %d", http.StatusOK, getW.Code)
	}
}

func TestHandleSwapRejectsMalformedBody(t *testing.T) {
	m, _ := testMint(t)
	s := &Server{mint: m}

	req := httptest.NewRequest(http.MethodPost, "/v1/swap", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handleSwap(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d but got %d", http.StatusBadRequest, w.Code)
	}
}
