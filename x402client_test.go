package x402client

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-client/codec"
	"github.com/vitwit/x402-client/eip712"
	"github.com/vitwit/x402-client/signer"
	"github.com/vitwit/x402-client/types"
)

// anvil's first dev key
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testPayTo = "0x384Aa214be0B279cbf211e9b2C992d8633F77848"

func testKeyTransport(t *testing.T) *signer.LocalKeyTransport {
	t.Helper()
	tr, err := signer.NewLocalKeyTransport(testKeyHex)
	require.NoError(t, err)
	return tr
}

func stablecoinChallenge() []byte {
	body, _ := json.Marshal(types.PaymentRequiredResponse{
		X402Version: types.X402Version,
		Accepts: []types.PaymentRequirements{{
			Scheme:  types.SchemeEIP3009,
			Network: "base-sepolia",
			Price:   "0.05",
			PayTo:   testPayTo,
			Asset:   types.NetworkBaseSepolia.USDCAddress,
			Extra:   map[string]interface{}{"name": "USDC", "version": "2"},
		}},
	})
	return body
}

func settlementHeader(t *testing.T, s types.SettlementResponse) string {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

// scriptedTransport lets 402 flow tests script the wallet side.
type scriptedTransport struct {
	responses map[string]json.RawMessage
	errors    map[string]error
	calls     []string
}

func (s *scriptedTransport) Request(_ context.Context, method string, _ ...interface{}) (json.RawMessage, error) {
	s.calls = append(s.calls, method)
	if err, ok := s.errors[method]; ok {
		return nil, err
	}
	if resp, ok := s.responses[method]; ok {
		return resp, nil
	}
	return nil, &signer.RPCError{Code: signer.CodeMethodNotFound, Message: "method not scripted"}
}

func TestExecutePassesThroughNon402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get(PaymentHeader))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("free content"))
	}))
	defer srv.Close()

	// any wallet call is a protocol violation for a non-402 response
	tr := &scriptedTransport{}
	client := New(types.NetworkBaseSepolia, tr)

	result, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	defer result.Response.Body.Close()

	require.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.False(t, result.Paid)
	require.Nil(t, result.Payload)
	require.Empty(t, tr.calls)
}

func TestExecuteStablecoinHappyPath(t *testing.T) {
	keyTransport := testKeyTransport(t)

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			require.Empty(t, r.Header.Get(PaymentHeader))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(stablecoinChallenge())
			return
		}

		payload, err := codec.DecodePayment(r.Header.Get(PaymentHeader))
		require.NoError(t, err)
		require.Equal(t, types.SchemeEIP3009, payload.Scheme)
		require.Equal(t, "base-sepolia", payload.Network)
		require.Equal(t, int64(84532), payload.ChainID)

		auth, err := payload.EIP3009()
		require.NoError(t, err)
		require.Equal(t, "50000", auth.Value)
		require.Equal(t, testPayTo, auth.To)
		require.Equal(t, keyTransport.Address().Hex(), auth.From)

		// the signature must verify against the reconstructed digest
		digest, err := eip712.TransferWithAuthorizationDigest(
			eip712.Domain{Name: "USDC", Version: "2", ChainID: "84532", VerifyingContract: common.HexToAddress(payload.Token).Hex()},
			auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce)
		require.NoError(t, err)

		sig, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
		require.NoError(t, err)
		recovered, err := eip712.RecoverSigner(digest, sig)
		require.NoError(t, err)
		require.Equal(t, keyTransport.Address(), recovered)

		w.Header().Set(SettlementHeader, settlementHeader(t, types.SettlementResponse{
			Success:   true,
			TxHash:    "0xsettled",
			NetworkID: "base-sepolia",
		}))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("paid content"))
	}))
	defer srv.Close()

	var events []State
	client := New(types.NetworkBaseSepolia, keyTransport,
		WithObserver(func(ev Event) { events = append(events, ev.State) }))

	result, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	defer result.Response.Body.Close()

	require.True(t, result.Paid)
	require.Equal(t, StateSettled, result.State)
	require.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.Equal(t, int32(2), requests.Load())

	require.NotNil(t, result.Settlement)
	require.True(t, result.Settlement.Success)
	require.Equal(t, "0xsettled", result.Settlement.TxHash)

	require.Equal(t, []State{StateChallenged, StateAuthorizing, StateSigning, StateSubmitting, StateSettled}, events)
}

func TestExecuteNativeHappyPath(t *testing.T) {
	payer := "0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			body, _ := json.Marshal(types.PaymentRequiredResponse{
				X402Version: types.X402Version,
				Accepts: []types.PaymentRequirements{{
					Scheme:  types.SchemeNative,
					Network: "base-sepolia",
					Price:   "0.05",
					PayTo:   testPayTo,
				}},
			})
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(body)
			return
		}

		payload, err := codec.DecodePayment(r.Header.Get(PaymentHeader))
		require.NoError(t, err)
		require.Equal(t, types.SchemeNative, payload.Scheme)

		proof, err := payload.Native()
		require.NoError(t, err)
		require.Equal(t, "0xnative-tx", proof.TxHash)
		require.Equal(t, "0.001428571428571428", proof.Amount)
		require.Equal(t, payer, proof.From)
		require.Equal(t, testPayTo, proof.To)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	accounts, _ := json.Marshal([]string{payer})
	tr := &scriptedTransport{responses: map[string]json.RawMessage{
		"eth_accounts":        accounts,
		"eth_sendTransaction": json.RawMessage(`"0xnative-tx"`),
	}}

	client := New(types.NetworkBaseSepolia, tr,
		WithExchangeRate(func(context.Context) (string, error) { return "35", nil }))

	result, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	defer result.Response.Body.Close()

	require.Equal(t, StateSettled, result.State)
	require.Contains(t, tr.calls, "eth_sendTransaction")
}

func TestExecuteUserDeclinesNoRetry(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(stablecoinChallenge())
	}))
	defer srv.Close()

	accounts, _ := json.Marshal([]string{"0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"})
	tr := &scriptedTransport{
		responses: map[string]json.RawMessage{"eth_accounts": accounts},
		errors: map[string]error{
			"eth_signTypedData_v4": &signer.RPCError{Code: signer.CodeUserRejected, Message: "user rejected the request"},
		},
	}

	var events []State
	client := New(types.NetworkBaseSepolia, tr,
		WithObserver(func(ev Event) { events = append(events, ev.State) }))

	_, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.True(t, types.IsCode(err, types.ErrUserRejected))

	// no second HTTP request may have been made
	require.Equal(t, int32(1), requests.Load())
	require.Equal(t, StateFailed, events[len(events)-1])
}

func TestExecuteMalformedChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("upgrade required, see docs"))
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t))

	_, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.True(t, types.IsCode(err, types.ErrMalformedChallenge))
}

func TestExecuteSettlementRejected(t *testing.T) {
	// server refuses even after a valid payment; the response comes back
	// verbatim and the client must not retry with a fresh authorization
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(stablecoinChallenge())
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t))

	result, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	defer result.Response.Body.Close()

	require.True(t, result.Paid)
	require.Equal(t, StateFailed, result.State)
	require.Equal(t, http.StatusPaymentRequired, result.Response.StatusCode)
	require.Equal(t, int32(2), requests.Load())
}

func TestExecuteInFlightGuard(t *testing.T) {
	client := New(types.NetworkBaseSepolia, testKeyTransport(t))

	require.NoError(t, client.begin())
	defer client.end()

	_, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: "http://localhost"})
	require.True(t, types.IsCode(err, types.ErrNegotiationInFlight))
}

func TestSelectRequirement(t *testing.T) {
	accepts := []types.PaymentRequirements{
		{Scheme: types.SchemeNative, PayTo: "0x1"},
		{Scheme: types.SchemeEIP3009, PayTo: "0x2"},
		{Scheme: types.SchemeEIP3009, PayTo: "0x3"},
	}

	t.Run("preferred scheme wins in server order", func(t *testing.T) {
		c := New(types.NetworkBaseSepolia, nil)
		require.Equal(t, "0x2", c.selectRequirement(accepts).PayTo)
	})

	t.Run("no preference takes the first entry", func(t *testing.T) {
		c := New(types.NetworkBaseSepolia, nil, WithPreferredScheme(""))
		require.Equal(t, "0x1", c.selectRequirement(accepts).PayTo)
	})

	t.Run("unmatched preference falls back to first", func(t *testing.T) {
		c := New(types.NetworkBaseSepolia, nil, WithPreferredScheme("x402-permit2"))
		require.Equal(t, "0x1", c.selectRequirement(accepts).PayTo)
	})
}

func TestExecuteSessionHeaders(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(stablecoinChallenge())
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t),
		WithSessionHeaders(func() map[string]string {
			return map[string]string{"Authorization": "Bearer session-token"}
		}))

	result, err := client.Execute(context.Background(), RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	result.Response.Body.Close()
	require.Equal(t, int32(2), requests.Load())
}

func TestWrapHTTPClientPaysTransparently(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(stablecoinChallenge())
			return
		}
		require.NotEmpty(t, r.Header.Get(PaymentHeader))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("paid content"))
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t))
	httpClient := client.WrapHTTPClient(nil)

	resp, err := httpClient.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), requests.Load())
}

func TestWrapHTTPClientLeavesNonReplayableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(stablecoinChallenge())
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t))
	httpClient := client.WrapHTTPClient(nil)

	// a body without GetBody cannot be replayed; the 402 must surface
	// instead of a half-retried request
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestExecuteRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(types.NetworkBaseSepolia, testKeyTransport(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Execute(ctx, RequestSpec{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
}
