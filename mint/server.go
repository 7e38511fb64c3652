package mint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cashumint/mintd/cashu"
	"github.com/cashumint/mintd/cashu/nuts/nut01"
	"github.com/cashumint/mintd/cashu/nuts/nut02"
	"github.com/cashumint/mintd/cashu/nuts/nut03"
	"github.com/cashumint/mintd/cashu/nuts/nut04"
	"github.com/cashumint/mintd/cashu/nuts/nut05"
	"github.com/cashumint/mintd/mint/storage"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Server wraps a *Mint in the HTTP surface: one handler per protocol
// endpoint, a legacy (pre-v1) surface and a v1 surface routed to the
// same engine methods, differing only in the keyset passed and the
// response wrapping. Uses gorilla/mux for routing and gorilla/handlers
// for the CORS middleware.
type Server struct {
	mint       *Mint
	httpServer *http.Server
}

// NewServer builds the route table and wraps it with CORS and, if a
// wallet directory is configured, cross-origin isolation headers on
// static responses.
func NewServer(m *Mint, cfg ServerConfig) *Server {
	r := mux.NewRouter()
	prefix := cfg.ApiPrefix

	legacy := r.PathPrefix(prefix).Subrouter()
	s := &Server{mint: m}
	s.registerLegacyRoutes(legacy)

	v1 := r.PathPrefix(prefix + "/v1").Subrouter()
	s.registerV1Routes(v1)

	r.HandleFunc(prefix+"/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/swagger-ui", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/api-docs/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	if cfg.ServeWalletDir != "" {
		fs := http.FileServer(http.Dir(cfg.ServeWalletDir))
		r.PathPrefix(prefix + "/").Handler(walletAssetHeaders(fs))
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	s.httpServer = &http.Server{
		Handler: cors(r),
	}
	return s
}

func (s *Server) ListenAndServe(hostPort string) error {
	s.httpServer.Addr = hostPort
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}

// walletAssetHeaders sets cross-origin isolation headers on every
// static wallet-UI response.
func walletAssetHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerLegacyRoutes(r *mux.Router) {
	r.HandleFunc("/keys", s.handleLegacyKeys).Methods(http.MethodGet)
	r.HandleFunc("/keysets", s.handleLegacyKeysets).Methods(http.MethodGet)
	r.HandleFunc("/mint", s.handleLegacyMintQuote).Methods(http.MethodGet)
	r.HandleFunc("/mint", s.handleLegacyMint).Methods(http.MethodPost)
	r.HandleFunc("/checkfees", s.handleCheckFees).Methods(http.MethodPost)
	r.HandleFunc("/melt", s.handleLegacyMelt).Methods(http.MethodPost)
	r.HandleFunc("/split", s.handleLegacySplit).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleLegacyInfo).Methods(http.MethodGet)
}

func (s *Server) registerV1Routes(r *mux.Router) {
	r.HandleFunc("/keys", s.handleV1Keys).Methods(http.MethodGet)
	r.HandleFunc("/keys/{id}", s.handleV1KeysById).Methods(http.MethodGet)
	r.HandleFunc("/keysets", s.handleV1Keysets).Methods(http.MethodGet)
	r.HandleFunc("/mint/quote/bolt11", s.handleMintQuoteBolt11).Methods(http.MethodPost)
	r.HandleFunc("/mint/quote/bolt11/{id}", s.handleGetMintQuoteBolt11).Methods(http.MethodGet)
	r.HandleFunc("/mint/bolt11", s.handleMintBolt11).Methods(http.MethodPost)
	r.HandleFunc("/melt/quote/bolt11", s.handleMeltQuoteBolt11).Methods(http.MethodPost)
	r.HandleFunc("/melt/quote/bolt11/{id}", s.handleGetMeltQuoteBolt11).Methods(http.MethodGet)
	r.HandleFunc("/melt/bolt11", s.handleMeltBolt11).Methods(http.MethodPost)
	r.HandleFunc("/swap", s.handleSwap).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleV1Info).Methods(http.MethodGet)
}

// decodeJSONBody rejects non-JSON content types and maps decode
// failures onto the engine's error taxonomy instead of a bare 400.
func decodeJSONBody(req *http.Request, dst any) error {
	ct := req.Header.Get("Content-Type")
	if ct != "" {
		mediaType := strings.ToLower(strings.Split(ct, ";")[0])
		if mediaType != "application/json" {
			return newErr(CodeInvalidQuote, "Content-Type header is not application/json")
		}
	}

	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return newErrf(CodeInvalidQuote, "bad json at %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return newErrf(CodeInvalidQuote, "invalid %v for field %q", typeErr.Value, typeErr.Field)
		case errors.Is(err, io.EOF):
			return newErr(CodeInvalidQuote, "request body cannot be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return newErrf(CodeInvalidQuote, "request body contains unknown field %s",
				strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return newErrf(CodeInvalidQuote, "%v", err)
		}
	}
	return nil
}

// writeJSON and writeErr are the two response paths every handler
// funnels through: a 200 with a body, or a status+{code,detail} body
// mapped from the engine's *Error.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code   ErrCode `json:"code"`
	Detail string  `json:"detail"`
}

func writeErr(w http.ResponseWriter, err error) {
	var mintErr *Error
	if !errors.As(err, &mintErr) {
		mintErr = internalErr(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(mintErr.Code.Status())
	_ = json.NewEncoder(w).Encode(errorBody{Code: mintErr.Code, Detail: mintErr.Detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	io.WriteString(w, "<!doctype html><title>mintd API docs</title><div id=\"swagger-ui\"></div>")
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]string{"title": "mintd", "version": s.mint.info.Version},
	})
}

// --- legacy (pre-v1) handlers ---

func (s *Server) handleLegacyKeys(w http.ResponseWriter, r *http.Request) {
	ks := s.mint.LegacyKeyset()
	resp := make(map[string]string, len(ks.Keys))
	for amount, kp := range ks.Keys {
		resp[strconv.FormatUint(amount, 10)] = hex.EncodeToString(kp.PublicKey.SerializeCompressed())
	}
	writeJSON(w, resp)
}

func (s *Server) handleLegacyKeysets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"keysets": {s.mint.LegacyKeyset().Id}})
}

func (s *Server) handleLegacyMintQuote(w http.ResponseWriter, r *http.Request) {
	amountStr := r.URL.Query().Get("amount")
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil || amount == 0 {
		writeErr(w, ErrInvalidAmount)
		return
	}

	quote, err := s.mint.RequestMintQuote(r.Context(), amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"pr": quote.PaymentRequest, "hash": quote.Id})
}

func (s *Server) handleLegacyMint(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeErr(w, ErrInvalidQuote)
		return
	}

	var req struct {
		Outputs cashu.BlindedMessages `json:"outputs"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sigs, err := s.mint.MintTokens(r.Context(), hash, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]cashu.BlindedSignatures{"promises": sigs})
}

func (s *Server) handleCheckFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pr string `json:"pr"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	quote, err := s.mint.RequestMeltQuote(r.Context(), req.Pr)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]uint64{"fee": quote.FeeReserve})
}

// handleLegacyMelt processes a legacy /melt request. Legacy melts
// compute the fee reserve with the same formula the v1 flow uses
// (mint.feeReserve via RequestMeltQuote) rather than reserving
// nothing, so a client cannot get a cheaper fee-free melt just by
// using the legacy endpoint.
func (s *Server) handleLegacyMelt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proofs  cashu.Proofs          `json:"proofs"`
		Pr      string                `json:"pr"`
		Outputs cashu.BlindedMessages `json:"outputs"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	quote, err := s.mint.RequestMeltQuote(r.Context(), req.Pr)
	if err != nil {
		writeErr(w, err)
		return
	}

	paid, preimage, change, err := s.mint.MeltTokens(r.Context(), quote.Id, req.Proofs, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"paid": paid, "preimage": preimage, "change": change})
}

func (s *Server) handleLegacySplit(w http.ResponseWriter, r *http.Request) {
	var req nut03.PostSwapRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sigs, err := s.mint.Swap(r.Context(), req.Inputs, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]cashu.BlindedSignatures{"promises": sigs})
}

func (s *Server) handleLegacyInfo(w http.ResponseWriter, r *http.Request) {
	info := s.mint.MintInfo()
	writeJSON(w, map[string]any{
		"name":             info.Name,
		"pubkey":           info.Pubkey,
		"version":          info.Version,
		"description":      info.Description,
		"description_long": info.LongDescription,
		"contact":          info.Contact,
		"motd":             info.Motd,
	})
}

// --- v1 handlers ---

func (s *Server) handleV1Keys(w http.ResponseWriter, r *http.Request) {
	ks := s.mint.V1Keyset()
	writeJSON(w, nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{Id: ks.Id, Unit: ks.Unit, Keys: ks.PublicKeys()}},
	})
}

func (s *Server) handleV1KeysById(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ks, ok := s.mint.Keyset(id)
	if !ok {
		writeErr(w, ErrKeysetNotFound)
		return
	}
	writeJSON(w, nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{Id: ks.Id, Unit: ks.Unit, Keys: ks.PublicKeys()}},
	})
}

func (s *Server) handleV1Keysets(w http.ResponseWriter, r *http.Request) {
	v1, legacy := s.mint.V1Keyset(), s.mint.LegacyKeyset()
	writeJSON(w, nut02.GetKeysetsResponse{
		Keysets: []nut02.Keyset{
			nut02.NewKeyset(nut02.KeysetInfo{Id: v1.Id, Unit: v1.Unit, InputFeePpk: v1.InputFeePpk}, true),
			nut02.NewKeyset(nut02.KeysetInfo{Id: legacy.Id, Unit: legacy.Unit, InputFeePpk: legacy.InputFeePpk}, false),
		},
	})
}

func (s *Server) handleMintQuoteBolt11(w http.ResponseWriter, r *http.Request) {
	var req nut04.PostMintQuoteBolt11Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Unit != "" && req.Unit != cashu.Sat.String() {
		writeErr(w, ErrUnitNotSupported)
		return
	}

	quote, err := s.mint.RequestMintQuote(r.Context(), req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, mintQuoteResponse(quote))
}

func (s *Server) handleGetMintQuoteBolt11(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	quote, err := s.mint.GetMintQuoteState(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, mintQuoteResponse(quote))
}

func mintQuoteResponse(quote storage.MintQuote) nut04.PostMintQuoteBolt11Response {
	return nut04.NewQuoteResponse(nut04.MintQuote{
		Id:             quote.Id,
		PaymentRequest: quote.PaymentRequest,
		Expiry:         quote.Expiry,
		InvoicePaid:    quote.InvoicePaid,
	})
}

func (s *Server) handleMintBolt11(w http.ResponseWriter, r *http.Request) {
	var req nut04.PostMintBolt11Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sigs, err := s.mint.MintTokens(r.Context(), req.Quote, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, nut04.PostMintBolt11Response{Signatures: sigs})
}

func (s *Server) handleMeltQuoteBolt11(w http.ResponseWriter, r *http.Request) {
	var req nut05.PostMeltQuoteBolt11Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Unit != "" && req.Unit != cashu.Sat.String() {
		writeErr(w, ErrUnitNotSupported)
		return
	}

	quote, err := s.mint.RequestMeltQuote(r.Context(), req.Request)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, meltQuoteResponse(quote))
}

func (s *Server) handleGetMeltQuoteBolt11(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	quote, err := s.mint.GetMeltQuoteState(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, meltQuoteResponse(quote))
}

func meltQuoteResponse(quote storage.MeltQuote) nut05.PostMeltQuoteBolt11Response {
	return nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		Paid:       quote.State == storage.MeltPaid,
		Expiry:     quote.Expiry,
	}
}

func (s *Server) handleMeltBolt11(w http.ResponseWriter, r *http.Request) {
	var req nut05.PostMeltBolt11Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	paid, preimage, change, err := s.mint.MeltTokens(r.Context(), req.Quote, req.Inputs, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, nut05.PostMeltBolt11Response{Paid: paid, Preimage: preimage, Change: change})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req nut03.PostSwapRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sigs, err := s.mint.Swap(r.Context(), req.Inputs, req.Outputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, nut03.PostSwapResponse{Signatures: sigs})
}

func (s *Server) handleV1Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.mint.MintInfo())
}
