package payload

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

var hostedShortcuts = Shortcuts{
	"amount":            "transaction.money.amount.fixed",
	"currency":          "transaction.money.currency",
	"customer_ref":      "customer.identity.merchant_customer_id",
	"pre_auth_callback": "session.pre_auth_callback.url",
	"skin":              "session.skin",
}

func TestBuilder_Build_ShortcutsAndDefaults(t *testing.T) {
	t.Parallel()

	b := Builder{
		Shortcuts: Shortcuts{"amount": "transaction.money.amount.fixed"},
		Defaults:  Defaults{"currency": "GBP"},
	}
	got, err := b.Build(map[string]any{"amount": "4.89"}, "currency")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"transaction": map[string]any{"money": map[string]any{"amount": map[string]any{"fixed": "4.89"}}},
		"currency":    "GBP",
	}, got)
}

func TestBuilder_Build_DefaultsGoThroughShortcuts(t *testing.T) {
	t.Parallel()

	b := Builder{
		Shortcuts: hostedShortcuts,
		Defaults: Defaults{
			"currency":          "GBP",
			"skin":              "9001",
			"pre_auth_callback": "http://example.com/callback/preauth",
		},
	}
	in := map[string]any{
		"transaction": map[string]any{"money": map[string]any{"amount": map[string]any{"fixed": "4.89"}}},
		"locale":      "en",
	}
	got, err := b.Build(in, "currency", "skin", "pre_auth_callback")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"transaction": map[string]any{"money": map[string]any{
			"amount":   map[string]any{"fixed": "4.89"},
			"currency": "GBP",
		}},
		"session": map[string]any{
			"skin":              "9001",
			"pre_auth_callback": map[string]any{"url": "http://example.com/callback/preauth", "format": CallbackFormat},
		},
		"locale": "en",
	}, got)

	// caller map untouched
	require.Equal(t, map[string]any{"fixed": "4.89"}, in["transaction"].(map[string]any)["money"].(map[string]any)["amount"])
	_, hasCurrency := in["transaction"].(map[string]any)["money"].(map[string]any)["currency"]
	require.False(t, hasCurrency)
}

func TestExpand_NeverOverwritesExplicitValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "nested_value_wins",
			in: map[string]any{
				"amount":      "1.00",
				"transaction": map[string]any{"money": map[string]any{"amount": map[string]any{"fixed": "9.99"}}},
			},
			want: map[string]any{
				"transaction": map[string]any{"money": map[string]any{"amount": map[string]any{"fixed": "9.99"}}},
			},
		},
		{
			name: "explicit_null_is_kept",
			in: map[string]any{
				"skin":    "1",
				"session": map[string]any{"skin": nil},
			},
			want: map[string]any{"session": map[string]any{"skin": nil}},
		},
		{
			name: "explicit_format_is_kept",
			in: map[string]any{
				"pre_auth_callback": "http://x",
				"session":           map[string]any{"pre_auth_callback": map[string]any{"format": "XML"}},
			},
			want: map[string]any{
				"session": map[string]any{"pre_auth_callback": map[string]any{"format": "XML", "url": "http://x"}},
			},
		},
		{
			name: "non_shortcut_keys_untouched",
			in:   map[string]any{"locale": "en", "customer_ref": "42"},
			want: map[string]any{
				"locale":   "en",
				"customer": map[string]any{"identity": map[string]any{"merchant_customer_id": "42"}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Expand(tc.in, hostedShortcuts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got=%#v want=%#v", got, tc.want)
			}
		})
	}
}

func TestExpand_NotificationSetsFormat(t *testing.T) {
	t.Parallel()

	got, err := Expand(
		map[string]any{"transaction_notification": "http://n"},
		Shortcuts{"transaction_notification": "callbacks.transaction_notification.url"},
	)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"callbacks": map[string]any{"transaction_notification": map[string]any{"url": "http://n", "format": "REST_JSON"}},
	}, got)
}

func TestExpand_ConflictingScalar(t *testing.T) {
	t.Parallel()

	in := map[string]any{"amount": "1.00", "transaction": "oops"}
	_, err := Expand(in, hostedShortcuts)
	if !errors.Is(err, ErrPathConflict) {
		t.Fatalf("err=%v want ErrPathConflict", err)
	}
	if in["transaction"] != "oops" {
		t.Fatalf("conflicting value must not be replaced")
	}
}

func TestExpand_ConflictLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	in := map[string]any{"a": 1, "b": 2, "z": "scalar"}
	_, err := Expand(in, Shortcuts{"a": "x.y", "b": "z.w"})
	if !errors.Is(err, ErrPathConflict) {
		t.Fatalf("err=%v want ErrPathConflict", err)
	}
	want := map[string]any{"a": 1, "b": 2, "z": "scalar"}
	if !reflect.DeepEqual(in, want) {
		t.Fatalf("input changed on error: %#v", in)
	}

	nested := map[string]any{"amount": "1.00", "currency": "GBP", "transaction": map[string]any{"money": "oops"}}
	_, err = Expand(nested, hostedShortcuts)
	if !errors.Is(err, ErrPathConflict) {
		t.Fatalf("nested err=%v want ErrPathConflict", err)
	}
	if _, ok := nested["amount"]; !ok || nested["transaction"].(map[string]any)["money"] != "oops" {
		t.Fatalf("nested input changed on error: %#v", nested)
	}
}

func TestApplyDefaults_NeverAltersPresentKeys(t *testing.T) {
	t.Parallel()

	d := Defaults{"currency": "GBP", "commerce_type": "ECOM", "locale": "en"}
	in := map[string]any{"currency": "EUR", "commerce_type": nil}
	got := ApplyDefaults(in, []string{"currency", "commerce_type", "locale"}, d)
	require.Equal(t, map[string]any{"currency": "EUR", "commerce_type": nil, "locale": "en"}, got)
}

func TestApplyDefaults_OnlyEligibleKeys(t *testing.T) {
	t.Parallel()

	got := ApplyDefaults(map[string]any{}, []string{"currency"}, Defaults{"currency": "GBP", "skin": "9001"})
	require.Equal(t, map[string]any{"currency": "GBP"}, got)

	got = ApplyDefaults(map[string]any{}, nil, Defaults{"currency": "GBP"})
	require.Empty(t, got)
}

func TestApplyDefaults_Interpolation(t *testing.T) {
	t.Parallel()

	d := Defaults{
		"return_url": "https://shop.example.com/return/%merchant_ref%?amount=%amount%",
		"cancel_url": "https://shop.example.com/cancel/%unknown%",
	}
	got := ApplyDefaults(
		map[string]any{"merchant_ref": "xyz-42", "amount": 4.5},
		[]string{"return_url", "cancel_url"},
		d,
	)
	require.Equal(t, "https://shop.example.com/return/xyz-42?amount=4.5", got["return_url"])
	require.Equal(t, "https://shop.example.com/cancel/%unknown%", got["cancel_url"])
}

func TestApplyDefaults_FalseAndNullStayLiteral(t *testing.T) {
	t.Parallel()

	d := Defaults{"description": "v-%flag%", "merchant_ref": "r-%empty%", "skin": "s-%on%"}
	got := ApplyDefaults(
		map[string]any{"flag": false, "empty": nil, "on": true},
		[]string{"description", "merchant_ref", "skin"},
		d,
	)
	require.Equal(t, "v-%flag%", got["description"])
	require.Equal(t, "r-%empty%", got["merchant_ref"])
	require.Equal(t, "s-true", got["skin"])
}

func TestApplyDefaults_CrossDefaultReferencesStayLiteral(t *testing.T) {
	t.Parallel()

	d := Defaults{
		"merchant_ref": "ref-1",
		"return_url":   "https://shop.example.com/%merchant_ref%",
	}
	for i := 0; i < 20; i++ {
		got := ApplyDefaults(map[string]any{}, []string{"merchant_ref", "return_url"}, d)
		require.Equal(t, "https://shop.example.com/%merchant_ref%", got["return_url"])
	}
}

func TestBuilder_DefaultTableIsNotShared(t *testing.T) {
	t.Parallel()

	b := Builder{
		Shortcuts: Shortcuts{"amount": "transaction.amount"},
		Defaults:  Defaults{"transaction": map[string]any{"currency": "GBP"}},
	}
	first, err := b.Build(map[string]any{"amount": "1.00"}, "transaction")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"transaction": map[string]any{"currency": "GBP", "amount": "1.00"}}, first)

	second, err := b.Build(map[string]any{}, "transaction")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"transaction": map[string]any{"currency": "GBP"}}, second)
}

func TestCloneDefaults(t *testing.T) {
	t.Parallel()

	src := Defaults{"currency": "GBP"}
	cp := CloneDefaults(src)
	src["currency"] = "EUR"
	require.Equal(t, "GBP", cp["currency"])
	require.Nil(t, CloneDefaults(nil))
}
