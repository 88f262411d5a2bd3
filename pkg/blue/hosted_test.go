package blue

import (
	"bytes"
	"context"
	"net/http"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/paypoint-blue/pkg/outcome"
	"github.com/r9s-ai/paypoint-blue/pkg/payload"
)

const sessionReply = `{
	"sessionId":"f2f53629-da95-420a-9580-8649d05ad7db",
	"redirectUrl":"https://hosted.mite.paypoint.net/hosted/4a9e7f7c/begin/f2f53629",
	"status":"SUCCESS"
}`

func hostedDefaults() payload.Defaults {
	return payload.Defaults{
		"currency":          "GBP",
		"skin":              "9001",
		"return_url":        "http://example.com/callback/return",
		"cancel_url":        "http://example.com/callback/cancel",
		"pre_auth_callback": "http://example.com/callback/preauth",
	}
}

func newTestHosted(t *testing.T, routes map[string]reply) (*Hosted, *fakeGateway) {
	t.Helper()
	srv, gw := newFakeGateway(t, routes)
	o := testOptions(srv, "/hosted/rest")
	o.APIEndpoint = srv.URL + "/acceptor/rest"
	o.Defaults = hostedDefaults()
	h, err := NewHosted(o)
	require.NoError(t, err)
	return h, gw
}

func sessionRequest() map[string]any {
	return map[string]any{
		"transaction": map[string]any{
			"merchantReference": "xyz-1234",
			"money":             map[string]any{"amount": map[string]any{"fixed": "4.89"}, "currency": "GBP"},
		},
		"session": map[string]any{
			"returnUrl":       map[string]any{"url": "http://example.com/callback/return"},
			"cancelUrl":       map[string]any{"url": "http://example.com/callback/cancel"},
			"skin":            "9001",
			"preAuthCallback": map[string]any{"url": "http://example.com/callback/preauth", "format": "REST_JSON"},
		},
	}
}

func TestHosted_DelegatesAPIQueries(t *testing.T) {
	t.Parallel()

	apiType := reflect.TypeOf(&API{})
	hostedType := reflect.TypeOf(&Hosted{})
	own := map[string]bool{
		"Ping": true, "MakePayment": true, "SubmitAuthorisation": true, "SubmitPayout": true,
		"RemoveCard": true, "InstID": true, "Stages": true,
	}
	var want []string
	for i := 0; i < apiType.NumMethod(); i++ {
		if name := apiType.Method(i).Name; !own[name] {
			want = append(want, name)
		}
	}
	got := append([]string(nil), HostedDelegates...)
	sort.Strings(got)
	require.Equal(t, want, got)

	for _, name := range HostedDelegates {
		hm, ok := hostedType.MethodByName(name)
		require.True(t, ok, name)
		am, _ := apiType.MethodByName(name)
		require.Equal(t, am.Type.NumIn(), hm.Type.NumIn(), name)
		for i := 1; i < am.Type.NumIn(); i++ {
			require.Equal(t, am.Type.In(i), hm.Type.In(i), name)
		}
		require.Equal(t, am.Type.NumOut(), hm.Type.NumOut(), name)
	}
}

func TestHosted_Ping(t *testing.T) {
	t.Parallel()

	h, gw := newTestHosted(t, map[string]reply{
		"GET /hosted/rest/sessions/ping": jsonReply(200, `{"status":"SUCCESS"}`),
	})
	ok, err := h.Ping(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/hosted/rest/sessions/ping", gw.last(t).path)
}

func TestHosted_MakePayment(t *testing.T) {
	t.Parallel()

	h, gw := newTestHosted(t, map[string]reply{
		"POST /hosted/rest/sessions/1234/payments": jsonReply(201, sessionReply),
	})
	resp, err := h.MakePayment(context.Background(), map[string]any{"merchant_ref": "xyz-1234", "amount": "4.89"})
	require.NoError(t, err)
	require.Equal(t, sessionRequest(), gw.last(t).decoded(t))
	require.Equal(t, "f2f53629-da95-420a-9580-8649d05ad7db", resp.GetString("session_id"))
	require.Equal(t, "https://hosted.mite.paypoint.net/hosted/4a9e7f7c/begin/f2f53629", resp.GetString("redirect_url"))
}

func TestHosted_SubmitAuthorisationAndPayout(t *testing.T) {
	t.Parallel()

	h, gw := newTestHosted(t, map[string]reply{
		"POST /hosted/rest/sessions/1234/payments": jsonReply(201, sessionReply),
		"POST /hosted/rest/sessions/1234/payouts":  jsonReply(201, sessionReply),
	})

	_, err := h.SubmitAuthorisation(context.Background(), map[string]any{"merchant_ref": "xyz-1234", "amount": "4.89"})
	require.NoError(t, err)
	want := sessionRequest()
	want["transaction"].(map[string]any)["deferred"] = true
	require.Equal(t, want, gw.last(t).decoded(t))

	_, err = h.SubmitPayout(context.Background(), map[string]any{"merchant_ref": "xyz-1234", "amount": "4.89"})
	require.NoError(t, err)
	require.Equal(t, "/hosted/rest/sessions/1234/payouts", gw.last(t).path)
	require.Equal(t, sessionRequest(), gw.last(t).decoded(t))
}

func TestHosted_ManageCards(t *testing.T) {
	t.Parallel()

	h, gw := newTestHosted(t, map[string]reply{
		"POST /hosted/rest/sessions/1234/cards": jsonReply(201, sessionReply),
	})
	_, err := h.ManageCards(context.Background(), map[string]any{
		"customer_ref": "bob",
		"return_url":   "http://example.com/callback",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"customer": map[string]any{"identity": map[string]any{"merchantCustomerId": "bob"}},
		"session": map[string]any{
			"returnUrl": map[string]any{"url": "http://example.com/callback"},
			"skin":      "9001",
		},
	}, gw.last(t).decoded(t))
}

func TestHosted_ForwardsToAPI(t *testing.T) {
	t.Parallel()

	const txn = `{"transaction":{"transactionId":"10044236139","type":"PAYMENT"},"outcome":{"reasonCode":"S100"}}`
	h, gw := newTestHosted(t, map[string]reply{
		"GET /acceptor/rest/transactions/1234/10044236139":          jsonReply(200, txn),
		"POST /acceptor/rest/transactions/1234/10044236139/capture": jsonReply(201, txn),
		"GET /acceptor/rest/customers/1234/5001/paymentMethods":     jsonReply(200, `{"paymentMethods":[]}`),
		"GET /acceptor/rest/transactions/1234/byRef?merchantRef=missing": jsonReply(404,
			`{"reasonCode":"A400","reasonMessage":"Transaction not found"}`),
	})
	ctx := context.Background()

	resp, err := h.Transaction(ctx, "10044236139")
	require.NoError(t, err)
	require.Equal(t, "PAYMENT", resp.GetString("transaction.type"))

	// Capture is only eligible for commerce_type, which the hosted defaults lack.
	_, err = h.CaptureAuthorisation(ctx, "10044236139", map[string]any{"amount": "1.00"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"transaction": map[string]any{"amount": "1.00"}}, gw.last(t).decoded(t))

	_, err = h.CustomerPaymentMethods(ctx, "5001")
	require.NoError(t, err)
	require.Equal(t, "/acceptor/rest/customers/1234/5001/paymentMethods", gw.last(t).path)

	resp, err = h.TransactionsByRef(ctx, "missing")
	require.ErrorIs(t, err, outcome.NotFound)
	require.EqualError(t, err, "the server responded with status 404")
	e, _ := outcome.As(err)
	require.Empty(t, e.Code)
	require.Equal(t, http.StatusNotFound, e.Status)
	require.Equal(t, "Transaction not found", resp.GetString("reason_message"))
}

func TestHosted_Skins(t *testing.T) {
	t.Parallel()

	zip := []byte("PK\x03\x04skin")
	h, gw := newTestHosted(t, map[string]reply{
		"GET /hosted/rest/skins/1234/list": jsonReply(200, `{"skins":[{"id":"9001","name":"Default skin"}]}`),
		"GET /hosted/rest/skins/9001":      {status: 200, contentType: "application/zip", body: string(zip)},
		"GET /hosted/rest/skins/0000":      {status: 500, contentType: "text/html", body: "<h1>Internal Server Error</h1>"},

		"POST /hosted/rest/skins/1234/create?name=Test%20skin": jsonReply(201, `{"id":"9002","name":"Test skin"}`),
		"PUT /hosted/rest/skins/9002?name=New%20name":          jsonReply(200, `{"id":"9002","name":"New name"}`),
		"PUT /hosted/rest/skins/9002":                          jsonReply(200, `{"id":"9002","name":"Test skin"}`),
	})
	ctx := context.Background()

	resp, err := h.Skins(ctx)
	require.NoError(t, err)
	require.Equal(t, "Default skin", resp.GetString("skins[0].name"))

	resp, err = h.DownloadSkin(ctx, "9001")
	require.NoError(t, err)
	require.Equal(t, zip, resp.Bytes())

	_, err = h.DownloadSkin(ctx, "0000")
	require.ErrorIs(t, err, outcome.Client)
	require.EqualError(t, err, "the server responded with status 500")

	resp, err = h.UploadSkin(ctx, bytes.NewReader(zip), "Test skin")
	require.NoError(t, err)
	require.Equal(t, "9002", resp.GetString("id"))
	got := gw.last(t)
	require.Equal(t, "application/zip", got.header.Get("Content-Type"))
	require.Equal(t, zip, got.body)

	resp, err = h.ReplaceSkin(ctx, "9002", bytes.NewReader(zip), "New name")
	require.NoError(t, err)
	require.Equal(t, "New name", resp.GetString("name"))
	require.Equal(t, zip, gw.last(t).body)

	_, err = h.ReplaceSkin(ctx, "9002", bytes.NewReader(zip), "")
	require.NoError(t, err)
	require.Empty(t, gw.last(t).rawQuery)
	require.Equal(t, zip, gw.last(t).body)

	_, err = h.ReplaceSkin(ctx, "9002", nil, "New name")
	require.NoError(t, err)
	got = gw.last(t)
	require.Equal(t, "name=New%20name", got.rawQuery)
	require.Empty(t, got.body)
	require.Empty(t, got.header.Get("Content-Type"))
}
