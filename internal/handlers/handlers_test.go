package handlers_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"rugmania-backend/internal/config"
	"rugmania-backend/internal/fairness"
	"rugmania-backend/internal/handlers"
	"rugmania-backend/internal/middleware"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/storage"
	"rugmania-backend/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier struct {
	err error
}

func (s *stubVerifier) VerifySettlement(ctx context.Context, player, txRef string, won bool) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

type testEnv struct {
	router   *gin.Engine
	jwt      *services.JWTService
	store    *storage.Store
	mr       *miniredis.Miniredis
	hub      *handlers.FeedHub
	verifier *stubVerifier
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rds, err := services.NewRedisService(&config.Config{RedisURL: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rds.Close() })

	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "rug.db")))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	store := storage.NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := handlers.NewFeedHub(nil)
	go hub.Run(ctx)

	verifier := &stubVerifier{}
	jwtService := services.NewJWTService("test-secret", time.Hour)
	settlements := services.NewSettlementService(services.SettlementServiceConfig{
		Store:       store,
		Redis:       rds,
		Verifier:    verifier,
		Broadcaster: hub,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Sessions:    handlers.NewSessionHandler(rds, nil),
		Settlements: handlers.NewSettlementHandler(settlements, nil),
		Users:       handlers.NewUserHandler(store, rds, nil),
		Auth:        handlers.NewAuthHandler(jwtService, nil),
		Feed:        handlers.NewFeedHandler(hub, nil),
		JWT:         jwtService,
		Redis:       rds,
		RateLimit:   middleware.RateLimitConfig{PerIP: 1000, PerAddress: 1000, Window: time.Minute},
	})

	return &testEnv{router: router, jwt: jwtService, store: store, mr: mr, hub: hub, verifier: verifier}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

type signer struct {
	key  *secp256k1.PrivateKey
	addr string
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	d := sha3.NewLegacyKeccak256()
	d.Write(key.PubKey().SerializeUncompressed()[1:])
	return signer{key: key, addr: "0x" + hex.EncodeToString(d.Sum(nil)[12:])}
}

func (s signer) sign(msg string) string {
	compact := ecdsa.SignCompact(s.key, wallet.PersonalSignHash(msg), false)
	sig := append(append([]byte{}, compact[1:]...), compact[0])
	return "0x" + hex.EncodeToString(sig)
}

func (e *testEnv) tokenFor(t *testing.T, s signer) string {
	t.Helper()
	ts := time.Now().UnixMilli()
	w, out := e.do(t, http.MethodPost, "/api/auth/token", "", models.TokenRequest{
		Address:   s.addr,
		Signature: s.sign(models.SessionAccessMessage(s.addr, ts)),
		Timestamp: ts,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return out["token"].(string)
}

func saveRequest(t *testing.T, addr string) models.SaveSessionRequest {
	t.Helper()
	seed, err := fairness.GenerateSeed()
	require.NoError(t, err)
	return models.SaveSessionRequest{
		PlayerAddress:  addr,
		ServerSeed:     seed.String(),
		ServerSeedHash: fairness.Commit(seed).String(),
		BetAmount:      1,
		Difficulty:     4,
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	env := newEnv(t)
	w, out := env.do(t, http.MethodGet, "/api/sessions?address=0x1111111111111111111111111111111111111111", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, out["ok"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newEnv(t)
	player := newSigner(t)
	token := env.tokenFor(t, player)
	req := saveRequest(t, "0x"+strings.ToUpper(player.addr[2:]))

	w, out := env.do(t, http.MethodPost, "/api/sessions", token, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["success"])

	w, out = env.do(t, http.MethodGet, "/api/sessions?address="+player.addr, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, req.ServerSeed, out["serverSeed"])
	assert.Equal(t, req.ServerSeedHash, out["serverSeedHash"])
	assert.Nil(t, out["clientSeed"])
	assert.True(t, fairness.Verify(out["serverSeed"].(string), out["serverSeedHash"].(string)))

	w, out = env.do(t, http.MethodDelete, "/api/sessions?address="+player.addr, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["deleted"])

	w, out = env.do(t, http.MethodDelete, "/api/sessions?address="+player.addr, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), out["deleted"])

	w, out = env.do(t, http.MethodGet, "/api/sessions?address="+player.addr, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.CodeNotFound, out["errorDetails"].(map[string]interface{})["code"])
}

func TestSessionClientSeedRoundTrips(t *testing.T) {
	env := newEnv(t)
	player := newSigner(t)
	token := env.tokenFor(t, player)

	req := saveRequest(t, player.addr)
	cs, err := fairness.GenerateSeed()
	require.NoError(t, err)
	req.ClientSeed = cs.String()

	w, _ := env.do(t, http.MethodPost, "/api/sessions", token, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, out := env.do(t, http.MethodGet, "/api/sessions?address="+player.addr, token, nil)
	assert.Equal(t, cs.String(), out["clientSeed"])
}

func TestSessionOtherAddressForbidden(t *testing.T) {
	env := newEnv(t)
	owner, other := newSigner(t), newSigner(t)
	ownerToken := env.tokenFor(t, owner)
	otherToken := env.tokenFor(t, other)

	w, _ := env.do(t, http.MethodPost, "/api/sessions", ownerToken, saveRequest(t, owner.addr))
	require.Equal(t, http.StatusOK, w.Code)

	w, out := env.do(t, http.MethodGet, "/api/sessions?address="+owner.addr, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, out, "serverSeed")

	w, _ = env.do(t, http.MethodPost, "/api/sessions", otherToken, saveRequest(t, owner.addr))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSaveSessionRejectsMalformedSeed(t *testing.T) {
	env := newEnv(t)
	player := newSigner(t)
	token := env.tokenFor(t, player)

	req := saveRequest(t, player.addr)
	req.ServerSeed = "0x1234"
	w, _ := env.do(t, http.MethodPost, "/api/sessions", token, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = saveRequest(t, player.addr)
	req.Difficulty = 7
	w, _ = env.do(t, http.MethodPost, "/api/sessions", token, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueTokenRejects(t *testing.T) {
	env := newEnv(t)
	player, impostor := newSigner(t), newSigner(t)

	ts := time.Now().UnixMilli()
	w, _ := env.do(t, http.MethodPost, "/api/auth/token", "", models.TokenRequest{
		Address:   player.addr,
		Signature: impostor.sign(models.SessionAccessMessage(player.addr, ts)),
		Timestamp: ts,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	stale := time.Now().Add(-10 * time.Minute).UnixMilli()
	w, _ = env.do(t, http.MethodPost, "/api/auth/token", "", models.TokenRequest{
		Address:   player.addr,
		Signature: player.sign(models.SessionAccessMessage(player.addr, stale)),
		Timestamp: stale,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func settlementBody(player, ref string, won bool) models.SettlementRequest {
	return models.SettlementRequest{
		Player:    player,
		Won:       won,
		BetAmount: 1,
		Payout:    2,
		TxRef:     "0x" + strings.Repeat(ref, 64),
	}
}

func TestRecordSettlement(t *testing.T) {
	env := newEnv(t)
	player := newSigner(t)

	w, out := env.do(t, http.MethodPost, "/api/settlements", "", settlementBody(player.addr, "a", true))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, out["duplicate"])

	w, out = env.do(t, http.MethodPost, "/api/settlements", "", settlementBody(player.addr, "a", true))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["duplicate"])

	bad := settlementBody(player.addr, "b", false)
	bad.TxRef = "0xdead"
	w, _ = env.do(t, http.MethodPost, "/api/settlements", "", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.verifier.err = errors.New("sender mismatch")
	w, out = env.do(t, http.MethodPost, "/api/settlements", "", settlementBody(player.addr, "c", false))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.CodeUnverified, out["errorDetails"].(map[string]interface{})["code"])
}

func TestReadModels(t *testing.T) {
	env := newEnv(t)
	player := newSigner(t)

	for _, r := range []string{"1", "2"} {
		w, _ := env.do(t, http.MethodPost, "/api/settlements", "", settlementBody(player.addr, r, r == "1"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, out := env.do(t, http.MethodGet, "/api/history?address="+player.addr, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["games"], 2)

	w, out = env.do(t, http.MethodGet, "/api/stats?address="+player.addr, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), out["totalGames"])
	assert.Equal(t, float64(1), out["wins"])
	assert.Equal(t, "2000000000000000000", out["totalWagered"])
	assert.Equal(t, "0", out["netProfitLoss"])

	w, out = env.do(t, http.MethodGet, "/api/leaderboard?period=weekly", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.PeriodWeekly, out["period"])
	players := out["players"].([]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, wallet.Truncate(player.addr), players[0].(map[string]interface{})["displayName"])

	w, _ = env.do(t, http.MethodGet, "/api/history?address=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func usernameBody(s signer, name string) models.UsernameRequest {
	ts := time.Now().UnixMilli()
	return models.UsernameRequest{
		Address:   s.addr,
		Username:  name,
		Signature: s.sign(models.UsernameMessage(s.addr, name, ts)),
		Timestamp: ts,
	}
}

func TestUsernames(t *testing.T) {
	env := newEnv(t)
	alice, bob := newSigner(t), newSigner(t)

	w, out := env.do(t, http.MethodGet, "/api/users?address="+alice.addr, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, wallet.Truncate(alice.addr), out["username"])

	w, out = env.do(t, http.MethodPost, "/api/users", "", usernameBody(alice, "Rugger_1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Rugger_1", out["username"])

	_, out = env.do(t, http.MethodGet, "/api/users?address="+alice.addr, "", nil)
	assert.Equal(t, "Rugger_1", out["username"])

	w, _ = env.do(t, http.MethodPost, "/api/users", "", usernameBody(bob, "rugger_1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/users", "", usernameBody(bob, "no spaces"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	forged := usernameBody(bob, "bobby")
	forged.Signature = alice.sign(models.UsernameMessage(bob.addr, "bobby", forged.Timestamp))
	w, _ = env.do(t, http.MethodPost, "/api/users", "", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	w, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.mr.Close()
	w, _ = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
