package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/courier/pkg/sites"
)

func builtin(t *testing.T, name string) *sites.Site {
	t.Helper()
	s, err := sites.Builtin(name)
	require.NoError(t, err)
	return s
}

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(builtin(t, "att"), LoadOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, DefaultCDPURL, cfg.Session.CDPURL)
	assert.Equal(t, "~/invoices/att", cfg.Session.OutputDir)
	assert.Equal(t, "att/login", cfg.Session.PassPath)
	assert.Equal(t, 300*time.Second, cfg.Session.MFATimeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.RateLimitCooldown)
	assert.Equal(t, "normal", cfg.Session.LogLevel)

	assert.True(t, cfg.Expenses.MonthlyLimit.Equal(decimal.RequireFromString("120")))
	assert.Equal(t, DefaultLineItems(), cfg.Expenses.LineItems)
	assert.Equal(t, 2, cfg.Expenses.MonthsBack)
	assert.True(t, cfg.Expenses.Reimbursable)
}

func TestLoad_Layers(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "certify.json", `{
		"mfa_phone": "4821",
		"mfa_timeout": 120,
		"monthly_limit": 150,
		"category": "Telecom",
		"line_items": [{"description": "Phone", "amount": 75.5}],
		"settle_timeout": "20s"
	}`)
	t.Setenv("CERTIFY_MONTHLY_LIMIT", "90.50")
	t.Setenv("CERTIFY_VENDOR", "Verizon")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("category", "", "")
	flags.String("mfa-phone", "", "")
	require.NoError(t, flags.Parse([]string{"--category=Cell Phone"}))

	cfg, err := Load(builtin(t, "certify"), LoadOptions{ConfigDir: dir, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "certify.json"), cfg.File)
	// file
	assert.Equal(t, "4821", cfg.Session.MFAPhone, "unset flag must not override the file")
	assert.Equal(t, 120*time.Second, cfg.Session.MFATimeout)
	assert.Equal(t, 20*time.Second, cfg.Session.SettleTimeout)
	require.Len(t, cfg.Expenses.LineItems, 1)
	assert.Equal(t, "Phone", cfg.Expenses.LineItems[0].Description)
	assert.Equal(t, "75.5", cfg.Expenses.LineItems[0].Amount.String())
	// env over file
	assert.Equal(t, "90.5", cfg.Expenses.MonthlyLimit.String())
	assert.Equal(t, "Verizon", cfg.Expenses.Vendor)
	// flag over file
	assert.Equal(t, "Cell Phone", cfg.Expenses.Category)
	// default
	assert.Equal(t, "~/expenses/certify", cfg.Session.OutputDir)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "att.yaml", "cdp_url: http://10.0.0.5:9222\nonly_new: true\n")

	cfg, err := Load(builtin(t, "att"), LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9222", cfg.Session.CDPURL)
	assert.True(t, cfg.Invoices.OnlyNew)

	_, err = Load(builtin(t, "att"), LoadOptions{ConfigFile: filepath.Join(dir, "missing.json")})
	assert.Error(t, err, "an explicit config file must exist")
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.json", `{"archive_bucket": "statements", "archive_prefix": "att"}`)
	t.Setenv("ATT_CONFIG", path)

	cfg, err := Load(builtin(t, "att"), LoadOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "statements", cfg.Invoices.ArchiveBucket)
	assert.Equal(t, "att", cfg.Invoices.ArchivePrefix)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad url", body: `{"cdp_url": "127.0.0.1:9222"}`},
		{name: "zero months", body: `{"months_back": 0}`},
		{name: "negative limit", body: `{"monthly_limit": -1}`},
		{name: "bad level", body: `{"log_level": "chatty"}`},
		{name: "bucket uri", body: `{"archive_bucket": "gs://statements"}`},
		{name: "bad amount", body: `{"line_items": [{"description": "Phone", "amount": "lots"}]}`},
		{name: "duplicate item", body: `{"line_items": "Phone:10,Phone:20"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "c.json", tt.body)
			_, err := Load(builtin(t, "certify"), LoadOptions{ConfigFile: path})
			assert.Error(t, err)
		})
	}
}

func TestToLineItems(t *testing.T) {
	want := []LineItem{
		{Description: "Cellphone", Amount: decimal.RequireFromString("100")},
		{Description: "Internet", Amount: decimal.RequireFromString("20")},
	}
	for _, in := range []any{
		"Cellphone:100.00, Internet:$20",
		[]string{"Cellphone:100", "Internet:20.00"},
		`[{"description":"Cellphone","amount":"100.00"},{"description":"Internet","amount":20}]`,
		[]any{
			map[string]any{"description": "Cellphone", "amount": 100.0},
			map[string]any{"description": "Internet", "amount": "20.00"},
		},
	} {
		got, err := toLineItems(in)
		require.NoError(t, err, "%v", in)
		require.Len(t, got, 2)
		for i := range want {
			assert.Equal(t, want[i].Description, got[i].Description)
			assert.True(t, want[i].Amount.Equal(got[i].Amount), "%v: %s", in, got[i].Amount)
		}
	}

	_, err := toLineItems("Cellphone=100")
	assert.Error(t, err)
}

func TestToDuration(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{in: "90s", want: 90 * time.Second},
		{in: "30m", want: 30 * time.Minute},
		{in: "300", want: 300 * time.Second},
		{in: 300, want: 300 * time.Second},
		{in: 1.5, want: 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := toDuration(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}

	_, err := toDuration("soon")
	assert.Error(t, err)
}

func TestSection_ResetAndLookup(t *testing.T) {
	cfg := New("certify")
	require.NoError(t, cfg.Expenses.SetData(map[string]any{"months_back": "6", "reimbursable": "false"}))
	assert.Equal(t, 6, cfg.Expenses.MonthsBack)
	assert.False(t, cfg.Expenses.Reimbursable)

	s, ok := cfg.Section(SectionIDExpenses)
	require.True(t, ok)
	s.Reset()
	assert.Equal(t, DefaultMonthsBack, cfg.Expenses.MonthsBack)
	assert.True(t, cfg.Expenses.Reimbursable)

	_, ok = cfg.Section("llm")
	assert.False(t, ok)
	assert.Contains(t, cfg.Keys(), "rate_limit_cooldown")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "invoices", "att"), ExpandHome("~/invoices/att"))
	assert.Equal(t, "/srv/out", ExpandHome("/srv/out"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
