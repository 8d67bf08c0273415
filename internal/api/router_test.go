package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/adamscao/certregistry/internal/api/handlers"
	"github.com/adamscao/certregistry/internal/auth"
	"github.com/adamscao/certregistry/internal/config"
	"github.com/adamscao/certregistry/internal/db"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/metrics"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/internal/policy"
	"github.com/adamscao/certregistry/internal/registry"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

const adminToken = "test-admin-token"

var (
	issuer   = ethaddr.MustParse("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	holderX  = ethaddr.MustParse("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	holderY  = ethaddr.MustParse("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	stranger = ethaddr.MustParse("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "registry.db")
	cfg.Registry = config.RegistryConfig{Name: "CPE Certificate", Symbol: "CPE", Issuer: issuer.Hex()}
	cfg.Admin.Token = adminToken
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *registry.Registry) {
	t.Helper()

	database, err := db.New(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	params, err := cfg.RegistryParams()
	require.NoError(t, err)
	reg, err := registry.Open(context.Background(), params, repository.NewCertRepository(database.DB))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(
		cfg,
		reg,
		repository.NewCallerRepository(database.DB),
		repository.NewAuditRepository(database.DB),
		policy.NewValidator(cfg),
		metrics.New(reg.TotalSupply),
		log,
	)
	return srv, reg
}

type APISuite struct {
	suite.Suite
	srv         *Server
	reg         *registry.Registry
	issuerToken string
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.srv, s.reg = newTestServer(s.T(), testConfig(s.T()))
	s.issuerToken = s.createCaller(issuer, false).Token
}

func (s *APISuite) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (s *APISuite) decode(rec *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *APISuite) errorCode(rec *httptest.ResponseRecorder) string {
	var resp handlers.ErrorResponse
	s.decode(rec, &resp)
	return resp.Error
}

func (s *APISuite) createCaller(address ethaddr.Address, totp bool) handlers.CreateCallerResponse {
	rec := s.do(http.MethodPost, "/v1/admin/callers",
		handlers.CreateCallerRequest{Address: address.Hex(), EnableTOTP: totp},
		map[string]string{"X-Admin-Token": adminToken})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.CreateCallerResponse
	s.decode(rec, &resp)
	return resp
}

func callerHeaders(address ethaddr.Address, token string) map[string]string {
	return map[string]string{
		"X-Caller-Address": address.Hex(),
		"Authorization":    "Bearer " + token,
	}
}

func johnDoe() models.CredentialFields {
	return models.CredentialFields{
		HolderName:   "John Doe",
		CredentialID: "CERT-123",
		Title:        "Blockchain Fundamentals",
		IssuingBody:  "CPE Academy",
		IssuedAt:     1690000000,
		CompletedAt:  1689990000,
		Hours:        8,
	}
}

func (s *APISuite) mint(to ethaddr.Address, fields models.CredentialFields) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/v1/certificates", map[string]interface{}{
		"to":          to.Hex(),
		"token_uri":   "ipfs://QmHash",
		"certificate": fields,
	}, callerHeaders(issuer, s.issuerToken))
}

func (s *APISuite) TestHealthAndInfo() {
	rec := s.do(http.MethodGet, "/health", nil, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/registry", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var info struct {
		Name        string          `json:"name"`
		Symbol      string          `json:"symbol"`
		Issuer      ethaddr.Address `json:"issuer"`
		TotalSupply uint64          `json:"total_supply"`
	}
	s.decode(rec, &info)
	s.Equal("CPE Certificate", info.Name)
	s.Equal("CPE", info.Symbol)
	s.Equal(issuer, info.Issuer)
	s.Zero(info.TotalSupply)
}

func (s *APISuite) TestIssuanceScenario() {
	rec := s.mint(holderX, johnDoe())
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var minted handlers.MintResponse
	s.decode(rec, &minted)
	s.Equal(uint64(1), minted.TokenID)
	s.Equal(ethaddr.Zero, minted.Event.From)
	s.Equal(holderX, minted.Event.To)
	s.Equal(uint64(1), minted.Event.TokenID)
	s.Equal(uint64(1), minted.Event.Seq)

	// details
	rec = s.do(http.MethodGet, "/v1/certificates/1", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var cert models.Certificate
	s.decode(rec, &cert)
	s.Equal(johnDoe(), cert.Fields)
	s.Equal(holderX, cert.Owner)
	s.Equal("ipfs://QmHash", cert.MetadataURI)

	rec = s.do(http.MethodGet, "/v1/certificates/1/uri", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "ipfs://QmHash")

	// balance
	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/balance", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var balance struct {
		Balance uint64 `json:"balance"`
	}
	s.decode(rec, &balance)
	s.Equal(uint64(1), balance.Balance)

	// enumeration
	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/tokens/0", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var byIndex struct {
		TokenID uint64 `json:"token_id"`
	}
	s.decode(rec, &byIndex)
	s.Equal(uint64(1), byIndex.TokenID)

	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/tokens/1", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("index_out_of_bounds", s.errorCode(rec))

	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/details", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var details struct {
		Details []models.CredentialFields `json:"details"`
	}
	s.decode(rec, &details)
	s.Equal([]models.CredentialFields{johnDoe()}, details.Details)

	// an address that never received anything
	rec = s.do(http.MethodGet, "/v1/owners/"+holderY.Hex()+"/balance", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &balance)
	s.Zero(balance.Balance)
}

func (s *APISuite) TestMint_PositionalParams() {
	s.Require().Equal(http.StatusCreated, s.mint(holderX, johnDoe()).Code)

	rec := s.do(http.MethodPost, "/v1/certificates", map[string]interface{}{
		"to":        holderX.Hex(),
		"token_uri": "ipfs://QmSecond",
		"params":    []interface{}{"John Doe", "CERT-124", "Smart Contracts", "CPE Academy", 1690000000, 1689990000, 12},
	}, callerHeaders(issuer, s.issuerToken))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var minted handlers.MintResponse
	s.decode(rec, &minted)
	s.Equal(uint64(2), minted.TokenID)

	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/certificates", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list struct {
		Count        int                  `json:"count"`
		Certificates []models.Certificate `json:"certificates"`
	}
	s.decode(rec, &list)
	s.Require().Equal(2, list.Count)
	s.Equal("CERT-123", list.Certificates[0].Fields.CredentialID)
	s.Equal("CERT-124", list.Certificates[1].Fields.CredentialID)
	s.Equal(uint32(12), list.Certificates[1].Fields.Hours)

	rec = s.do(http.MethodGet, "/v1/certificates/2", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var cert handlers.CertificateResponse
	s.decode(rec, &cert)
	s.Equal(uint64(2), cert.ID)
	s.Equal(uint64(1), cert.OwnerIndex)
}

func (s *APISuite) TestMint_BadRequests() {
	headers := callerHeaders(issuer, s.issuerToken)

	tests := []struct {
		name string
		body map[string]interface{}
		code string
	}{
		{"no fields", map[string]interface{}{"to": holderX.Hex()}, "invalid_request"},
		{"both conventions", map[string]interface{}{
			"to": holderX.Hex(), "certificate": johnDoe(),
			"params": []interface{}{"a", "b", "c", "d", 1, 2, 3},
		}, "invalid_request"},
		{"short params", map[string]interface{}{
			"to": holderX.Hex(), "params": []interface{}{"a", "b", "c"},
		}, "invalid_params"},
		{"mistyped params", map[string]interface{}{
			"to": holderX.Hex(), "params": []interface{}{"a", "b", "c", "d", "soon", 2, 3},
		}, "invalid_params"},
		{"malformed owner", map[string]interface{}{"to": "0x1234", "certificate": johnDoe()}, "invalid_argument"},
		{"zero owner", map[string]interface{}{"to": ethaddr.Zero.Hex(), "certificate": johnDoe()}, "invalid_argument"},
		{"too many hours", map[string]interface{}{
			"to": holderX.Hex(), "certificate": models.CredentialFields{Hours: 5000},
		}, "policy_violation"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.do(http.MethodPost, "/v1/certificates", tt.body, headers)
			s.Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
			s.Equal(tt.code, s.errorCode(rec))
		})
	}

	s.Zero(s.reg.TotalSupply())

	rec := s.do(http.MethodPost, "/v1/certificates", map[string]interface{}{
		"to": holderX.Hex(), "params": []interface{}{"a"},
	}, headers)
	var resp struct {
		Details struct {
			Expected []string `json:"expected"`
		} `json:"details"`
	}
	s.decode(rec, &resp)
	s.Equal([]string{"holder_name", "credential_id", "title", "issuing_body", "issued_at", "completed_at", "hours"}, resp.Details.Expected)
}

func (s *APISuite) TestMint_Authentication() {
	body := map[string]interface{}{"to": holderX.Hex(), "certificate": johnDoe()}

	rec := s.do(http.MethodPost, "/v1/certificates", body, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/certificates", body, map[string]string{"X-Caller-Address": issuer.Hex()})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/certificates", body, callerHeaders(issuer, "wrong-token"))
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("invalid_credentials", s.errorCode(rec))

	// A valid token for another account does not carry over
	rec = s.do(http.MethodPost, "/v1/certificates", body, callerHeaders(holderY, s.issuerToken))
	s.Equal(http.StatusUnauthorized, rec.Code)

	s.Zero(s.reg.TotalSupply())

	rec = s.do(http.MethodGet, "/v1/admin/audit?action="+models.ActionAuthFailed, nil, map[string]string{"X-Admin-Token": adminToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	var audit struct {
		Entries []models.AuditLog `json:"entries"`
	}
	s.decode(rec, &audit)
	s.Len(audit.Entries, 4)
}

func (s *APISuite) TestMint_NonIssuerDenied() {
	other := s.createCaller(stranger, false)

	rec := s.do(http.MethodPost, "/v1/certificates",
		map[string]interface{}{"to": holderX.Hex(), "certificate": johnDoe()},
		callerHeaders(stranger, other.Token))
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("unauthorized", s.errorCode(rec))

	// Whatever else is wrong with the request, a non-issuer is told so
	strangerRequests := map[string]interface{}{
		"malformed owner": map[string]interface{}{"to": "0x1234", "certificate": johnDoe()},
		"zero owner":      map[string]interface{}{"to": ethaddr.Zero.Hex(), "certificate": johnDoe()},
		"short params":    map[string]interface{}{"to": holderX.Hex(), "params": []interface{}{"a"}},
		"oversized uri": map[string]interface{}{
			"to": holderX.Hex(), "token_uri": strings.Repeat("u", 100000), "certificate": johnDoe(),
		},
		"no fields": map[string]interface{}{"to": holderX.Hex()},
		"not json":  "just a string",
	}
	for name, body := range strangerRequests {
		s.Run(name, func() {
			rec := s.do(http.MethodPost, "/v1/certificates", body, callerHeaders(stranger, other.Token))
			s.Equal(http.StatusForbidden, rec.Code, rec.Body.String())
			s.Equal("unauthorized", s.errorCode(rec))
		})
	}

	s.Zero(s.reg.TotalSupply())
	s.Zero(s.reg.BalanceOf(holderX))
	s.Empty(s.reg.Events(0, 0))

	// The next successful mint still gets id 1
	rec = s.mint(holderX, johnDoe())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var minted handlers.MintResponse
	s.decode(rec, &minted)
	s.Equal(uint64(1), minted.TokenID)

	rec = s.do(http.MethodGet, "/v1/admin/audit?caller="+stranger.Hex(), nil, map[string]string{"X-Admin-Token": adminToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "designated issuer")
}

func (s *APISuite) TestMint_TOTP() {
	s.srv, s.reg = newTestServer(s.T(), testConfig(s.T()))
	created := s.createCaller(issuer, true)
	s.Require().NotEmpty(created.TOTPSecret)
	s.Require().True(strings.HasPrefix(created.TOTPURL, "otpauth://totp/"))
	s.issuerToken = created.Token

	rec := s.mint(holderX, johnDoe())
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("invalid_totp", s.errorCode(rec))

	code, err := auth.GenerateTOTPCode(created.TOTPSecret, time.Now())
	s.Require().NoError(err)

	headers := callerHeaders(issuer, created.Token)
	headers["X-Caller-TOTP"] = code
	rec = s.do(http.MethodPost, "/v1/certificates",
		map[string]interface{}{"to": holderX.Hex(), "certificate": johnDoe()}, headers)
	s.Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *APISuite) TestMint_DisabledCaller() {
	rec := s.do(http.MethodPut, "/v1/admin/callers/"+issuer.Hex()+"/enabled",
		map[string]interface{}{"enabled": false}, map[string]string{"X-Admin-Token": adminToken})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.mint(holderX, johnDoe())
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("policy_violation", s.errorCode(rec))

	rec = s.do(http.MethodPut, "/v1/admin/callers/"+holderY.Hex()+"/enabled",
		map[string]interface{}{"enabled": true}, map[string]string{"X-Admin-Token": adminToken})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *APISuite) TestLookups_NotFound() {
	rec := s.do(http.MethodGet, "/v1/certificates/1", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.errorCode(rec))

	rec = s.do(http.MethodGet, "/v1/certificates/0/uri", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/certificates/abc", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_id", s.errorCode(rec))

	rec = s.do(http.MethodGet, "/v1/owners/not-an-address/balance", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_address", s.errorCode(rec))

	rec = s.do(http.MethodGet, "/v1/owners/"+holderY.Hex()+"/tokens/0", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("index_out_of_bounds", s.errorCode(rec))
}

func (s *APISuite) TestEvents() {
	s.Require().Equal(http.StatusCreated, s.mint(holderX, johnDoe()).Code)
	s.Require().Equal(http.StatusCreated, s.mint(holderY, johnDoe()).Code)
	s.Require().Equal(http.StatusCreated, s.mint(holderX, johnDoe()).Code)

	var page struct {
		Events []models.TransferEvent `json:"events"`
		Next   uint64                 `json:"next"`
	}

	rec := s.do(http.MethodGet, "/v1/events?after=1&limit=1", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &page)
	s.Require().Len(page.Events, 1)
	s.Equal(uint64(2), page.Events[0].TokenID)
	s.Equal(holderY, page.Events[0].To)
	s.Equal(uint64(2), page.Next)

	rec = s.do(http.MethodGet, "/v1/events?after=3", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &page)
	s.Empty(page.Events)
	s.Equal(uint64(3), page.Next)

	rec = s.do(http.MethodGet, "/v1/events?limit=0", nil, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	var owned struct {
		Events []models.TransferEvent `json:"events"`
	}
	rec = s.do(http.MethodGet, "/v1/owners/"+holderX.Hex()+"/events", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &owned)
	s.Require().Len(owned.Events, 2)
	s.Equal(uint64(1), owned.Events[0].TokenID)
	s.Equal(uint64(3), owned.Events[1].TokenID)
	for _, ev := range owned.Events {
		s.True(ev.From.IsZero())
	}
}

func (s *APISuite) TestAdmin() {
	rec := s.do(http.MethodGet, "/v1/admin/callers", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/v1/admin/callers", nil, map[string]string{"X-Admin-Token": "nope"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/v1/admin/callers", nil, map[string]string{"X-Admin-Token": adminToken})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.NotContains(rec.Body.String(), "token_hash")
	var list struct {
		Callers []models.Caller `json:"callers"`
	}
	s.decode(rec, &list)
	s.Require().Len(list.Callers, 1)
	s.Equal(issuer, list.Callers[0].Address)
	s.True(list.Callers[0].Enabled)

	rec = s.do(http.MethodPost, "/v1/admin/callers",
		handlers.CreateCallerRequest{Address: issuer.Hex()},
		map[string]string{"X-Admin-Token": adminToken})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/admin/callers",
		handlers.CreateCallerRequest{Address: ethaddr.Zero.Hex()},
		map[string]string{"X-Admin-Token": adminToken})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestMetrics() {
	s.Require().Equal(http.StatusCreated, s.mint(holderX, johnDoe()).Code)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "certregistry_certificates_minted_total 1")
	s.Contains(rec.Body.String(), "certregistry_total_supply 1")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	srv, _ := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
